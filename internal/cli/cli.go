// Package cli is the screenrecd command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeShowOff/ScreenRecorder/internal/app"
	"github.com/CodeShowOff/ScreenRecorder/internal/client"
	"github.com/CodeShowOff/ScreenRecorder/internal/config"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
)

type options struct {
	configPath string
	addr       string
	timeout    time.Duration
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "screenrecd",
		Short:         "Screen recording daemon and control client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "daemon address (defaults to listen_addr from the config)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout for client commands")

	root.AddCommand(
		newServeCommand(opts),
		newStartCommand(opts),
		newSimpleCommand(opts, "pause", "Pause the current recording"),
		newSimpleCommand(opts, "resume", "Resume a paused recording"),
		newSimpleCommand(opts, "stop", "Stop and save the current recording"),
		newStatusCommand(opts),
		newGrantCommand(opts),
		newLocationCommand(opts),
		newRecordingsCommand(opts),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log.Configure(log.Config{Level: cfg.LogLevel, Service: "screenrecd"})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	}
}

// dial resolves the daemon address from --addr or the config file.
func (o *options) dial() (*client.RecorderClient, error) {
	addr := o.addr
	if addr == "" {
		cfg, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		addr = cfg.ListenAddr
	}
	return client.NewRecorderClient(addr), nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCommand(opts *options) *cobra.Command {
	var rotation int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := c.Start(ctx, rotation)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVar(&rotation, "rotation", 0, "display rotation in quarter turns (0-3)")
	return cmd
}

func newSimpleCommand(opts *options, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := c.Command(ctx, name)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorder state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newGrantCommand(opts *options) *cobra.Command {
	var readOnly, revoke bool
	cmd := &cobra.Command{
		Use:   "grant <handle>",
		Short: "Grant (or revoke) access to a scoped location such as tree:///media/usb or s3://bucket/prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			if revoke {
				if err := c.Revoke(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			}
			g, err := c.Grant(ctx, args[0], !readOnly)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "grant without write access")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "revoke the grant instead")
	return cmd
}

func newLocationCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "location [handle]",
		Short: "Save recordings to a granted scoped location; no handle means the direct directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			handle := ""
			if len(args) == 1 {
				handle = args[0]
			}
			loc, err := c.SetLocation(ctx, handle)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loc)
		},
	}
}

func newRecordingsCommand(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List finished recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			recs, err := c.Recordings(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of recordings")
	return cmd
}
