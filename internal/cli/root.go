// Package cli implements the palpalette command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/palpalette/client/internal/app"
)

// env carries state shared by every command of one invocation.
type env struct {
	cfgFile string
	output  string

	app *app.Application
	out *printer
}

// Execute runs the command line with args and releases the application
// afterwards, whether the command succeeded or not.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e := &env{}
	defer func() {
		if err := e.close(); err != nil {
			fmt.Fprintf(stderr, "close: %v\n", err)
		}
	}()

	root := newRootCommand(e)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil && e.out != nil {
		e.out.Error("%v", err)
	} else if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return err
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "palpalette",
		Short: "PalPalette client",
		Long: `palpalette is the command-line client for PalPalette.

Log in, keep your session fresh, and pair the lighting system attached
to your PalPalette devices from your terminal.`,
		Version:       app.BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.open(cmd)
		},
	}

	root.PersistentFlags().StringVar(&e.cfgFile, "config", "", "config file (default: $HOME/.palpalette/config.yaml)")
	root.PersistentFlags().StringVarP(&e.output, "output", "o", "text", "output format: text, json")

	root.AddCommand(
		newAuthCommand(e),
		newLightingCommand(e),
		newTokenCommand(e),
	)
	return root
}

func (e *env) open(cmd *cobra.Command) error {
	switch e.output {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", e.output)
	}
	e.out = &printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), json: e.output == "json"}

	cfg, err := app.LoadConfig(e.cfgFile)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	e.app = a
	a.Start(cmd.Context())
	return nil
}

func (e *env) close() error {
	if e.app == nil {
		return nil
	}
	err := e.app.Close()
	e.app = nil
	return err
}

var errNotLoggedIn = errors.New("not logged in, run 'palpalette auth login'")

func (e *env) requireSession() error {
	if !e.app.Sessions().IsAuthenticated() {
		return errNotLoggedIn
	}
	return nil
}
