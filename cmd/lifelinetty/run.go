// cmd/lifelinetty/run.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/config"
	"github.com/macg4dave/lifelinetty/internal/daemon"
	"github.com/macg4dave/lifelinetty/internal/lcd"
	"github.com/macg4dave/lifelinetty/internal/logging"
	"github.com/macg4dave/lifelinetty/internal/metrics"
	"github.com/macg4dave/lifelinetty/internal/mirror"
	mirrormodbus "github.com/macg4dave/lifelinetty/internal/mirror/modbus"
	"github.com/macg4dave/lifelinetty/internal/render"
)

type runOptions struct {
	device      string
	baud        int
	cols        int
	rows        int
	headless    bool
	demo        bool
	payloadFile string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the panel from the serial link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.device, "device", "", "serial device (overrides config)")
	f.IntVar(&opts.baud, "baud", 0, "baud rate (overrides config)")
	f.IntVar(&opts.cols, "cols", 0, "panel columns (overrides config)")
	f.IntVar(&opts.rows, "rows", 0, "panel rows (overrides config)")
	f.BoolVar(&opts.headless, "headless", false, "render into memory instead of the I2C panel")
	f.BoolVar(&opts.demo, "demo", false, "cycle built-in demo pages (no serial input)")
	f.StringVar(&opts.payloadFile, "payload-file", "", "render one JSON payload from a file and exit")
	cmd.MarkFlagsMutuallyExclusive("demo", "payload-file")
	return cmd
}

func runDaemon(cmd *cobra.Command, opts runOptions) error {
	// --------------------
	// Load + override + validate config
	// --------------------

	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if opts.device != "" {
		cfg.Device = opts.device
	}
	if opts.baud != 0 {
		cfg.Baud = opts.baud
	}
	if opts.cols != 0 {
		cfg.Cols = opts.cols
	}
	if opts.rows != 0 {
		cfg.Rows = opts.rows
	}
	if opts.headless {
		cfg.Display.Driver = "memory"
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		CacheDir: cfg.CacheDir,
		Console:  true,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Build collaborators
	// --------------------

	disp, closeDisp, err := openDisplay(cfg)
	if err != nil {
		log.Error("display open failed", zap.String("driver", cfg.Display.Driver), zap.Error(err))
		return err
	}
	defer closeDisp()

	if opts.demo || opts.payloadFile != "" {
		return runLocal(ctx, cfg, disp, log, opts)
	}

	mir, closeMirror, err := openMirror(cfg, log)
	if err != nil {
		log.Error("status mirror open failed", zap.String("device", cfg.StatusMirror.Device), zap.Error(err))
		return err
	}
	defer closeMirror()

	d, err := daemon.New(ctx, cfg, path, daemon.Deps{
		Display: disp,
		Mirror:  mir,
		Metrics: metrics.New(cfg.CacheDir, cfg.FlushInterval()),
		Log:     log,
	})
	if err != nil {
		return err
	}

	// --------------------
	// Loop until SIGINT/SIGTERM
	// --------------------
	return d.Run(ctx)
}

// runLocal drives the panel without the serial link.
func runLocal(ctx context.Context, cfg *config.Config, disp render.Display, log *zap.Logger, opts runOptions) error {
	l, err := daemon.NewLocal(cfg, disp, log, nil)
	if err != nil {
		return err
	}
	if opts.payloadFile != "" {
		return l.ShowFile(opts.payloadFile)
	}
	return l.Demo(ctx)
}

func openDisplay(cfg *config.Config) (render.Display, func(), error) {
	if cfg.Display.Driver == "memory" {
		return lcd.NewMemory(cfg.Cols, cfg.Rows), func() {}, nil
	}

	p, err := lcd.OpenPCF8574(cfg.Display.I2CBus, cfg.Display.I2CAddr, cfg.Cols, cfg.Rows)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

func openMirror(cfg *config.Config, log *zap.Logger) (*mirror.Mirror, func(), error) {
	mc := cfg.StatusMirror
	if !mc.Enabled() {
		return nil, func() {}, nil
	}

	cli, err := mirrormodbus.NewRTUClient(cfg.MirrorLink())
	if err != nil {
		return nil, nil, fmt.Errorf("status mirror: %w", err)
	}

	m, err := mirror.New(mirror.Plan{
		UnitID:     mc.UnitID,
		BaseSlot:   mc.BaseSlot,
		DeviceName: mc.DeviceName,
	}, cli, log.Named("mirror"))
	if err != nil {
		_ = cli.Close()
		return nil, nil, err
	}
	return m, func() { _ = cli.Close() }, nil
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return path
}
