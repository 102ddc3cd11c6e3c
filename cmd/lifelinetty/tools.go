// cmd/lifelinetty/tools.go
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/macg4dave/lifelinetty/internal/config"
	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/link"
	"github.com/macg4dave/lifelinetty/internal/logging"
	"github.com/macg4dave/lifelinetty/internal/shell"
)

// ---- validate ----

func newValidateCmd() *cobra.Command {
	var initMissing bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !config.Exists(path) {
				if !initMissing {
					fmt.Fprintf(out, "%s: not found, defaults apply\n", path)
					return nil
				}
				if err := config.Save(path, cfg); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: written with defaults\n", path)
				return nil
			}

			fmt.Fprintf(out, "%s: ok (device=%s baud=%d panel=%dx%d)\n",
				path, cfg.Device, cfg.Baud, cfg.Cols, cfg.Rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&initMissing, "init", false, "write the defaults when the file is missing")
	return cmd
}

// ---- shell ----

func newShellCmd() *cobra.Command {
	var (
		device string
		baud   int
	)
	cmd := &cobra.Command{
		Use:   "shell -- COMMAND [ARGS...]",
		Short: "Run an allow-listed command on the remote daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			lc := cfg.LinkConfig()
			if device != "" {
				lc.Device = device
			}
			if baud != 0 {
				lc.Baud = baud
			}

			log, closeLog, err := logging.New(logging.Options{Level: "warn", Console: true})
			if err != nil {
				return err
			}
			defer closeLog()

			ctl, err := link.NewController(lc, nil, log.Named("link"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := shell.New(ctl, cmd.OutOrStdout(), cmd.ErrOrStderr(), log.Named("shell"))
			defer c.Close()

			code, err := c.Run(ctx, strings.Join(args, " "))
			switch {
			case errors.Is(err, shell.ErrBusy):
				fmt.Fprintln(cmd.ErrOrStderr(), "remote busy")
				return exitCode(1)
			case err != nil:
				return err
			case code != 0:
				return exitCode(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "serial device (overrides config)")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate (overrides config)")
	return cmd
}

// ---- encode ----

func newEncodeCmd() *cobra.Command {
	var codec string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Read a payload from stdin and print the checksummed wire line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			line, err := encodeLine(bytes.TrimSpace(raw), codec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", line)
			return nil
		},
	}
	cmd.Flags().StringVar(&codec, "codec", "", "wrap in a compressed envelope: none | lz4 | zstd")
	return cmd
}

// encodeLine validates one payload and returns its normal wire form.
func encodeLine(raw []byte, codec string) ([]byte, error) {
	p, err := frame.NewDecoder(nil).Decode(link.RawFrame{Bytes: raw, Size: len(raw) + 1})
	if err != nil {
		return nil, err
	}
	line, err := frame.Encode(p)
	if err != nil {
		return nil, err
	}
	if codec == "" {
		return line, nil
	}
	return frame.Compress(line, codec)
}
