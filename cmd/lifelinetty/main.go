// cmd/lifelinetty/main.go
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCode carries a remote or command exit status out of Execute.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	root := newRootCmd()

	err := root.Execute()
	var code exitCode
	switch {
	case err == nil:
	case errors.As(err, &code):
		os.Exit(int(code))
	default:
		fmt.Fprintln(os.Stderr, "lifelinetty:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lifelinetty",
		Short:         "Serial-driven character LCD daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default ~/.serial_lcd/config.toml)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newShellCmd(),
		newEncodeCmd(),
	)
	return root
}
