// Command pipeview turns CPU pipeline trace logs into per-instruction
// stage timelines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pipeview/internal/common"
	"pipeview/internal/config"
	"pipeview/internal/lister"
	"pipeview/internal/pipe"
	"pipeview/internal/server"
	"pipeview/internal/window"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipeview",
		Short: "Decode gem5 O3PipeView and PIPE_TRACE logs into pipeline timelines",
		Long: `pipeview reads a CPU pipeline trace, detects its dialect (gem5
O3PipeView or comma-separated PIPE_TRACE) and reconstructs the stage
timeline of every instruction inside a tick window.`,
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "INI settings file")
	pf.String("log-level", "", "Minimum log level: debug|info|warning|error")
	pf.Int64("start", 0, "First tick of the window")
	pf.Int64("end", pipe.UnboundedEnd, "Last tick of the window (-1 = no limit)")

	listCmd := &cobra.Command{
		Use:   "list <trace>",
		Short: "Print a text timeline of every instruction",
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat(lister.FormatList),
	}
	listCmd.Flags().Bool("relative", false, "Print ticks relative to min_tick")
	listCmd.Flags().Bool("stats", false, "Print per-run counters")
	listCmd.Flags().Bool("no-idx", false, "Omit the Idx:<n>; prefix")
	listCmd.Flags().Bool("no-diags", false, "Omit the diagnostics block")
	listCmd.Flags().Bool("quiet", false, "Suppress the timeline; combine with --stats")
	listCmd.Flags().Bool("echo-log", false, "Mirror printed lines to the debug log")

	jsonCmd := &cobra.Command{
		Use:   "json <trace>",
		Short: "Print the decode result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat(lister.FormatJSON),
	}
	jsonCmd.Flags().Bool("indent", false, "Pretty-print the JSON")

	dotCmd := &cobra.Command{
		Use:   "dot <trace>",
		Short: "Print the stage transition graph in Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat(lister.FormatDOT),
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", "", "Listen address (overrides [server] listen)")

	codesCmd := &cobra.Command{
		Use:   "codes",
		Short: "List error codes and their descriptions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "pipeview error code list")
			fmt.Fprintln(w)
			for _, c := range common.ErrorCodes() {
				fmt.Fprintf(w, "0x%04x %-24s %s\n", uint32(c.Code), c.Name, c.Description)
			}
		},
	}

	rootCmd.AddCommand(listCmd, jsonCmd, dotCmd, serveCmd, codesCmd)
	return rootCmd
}

// settings loads --config and applies --log-level over it.
func settings(cmd *cobra.Command) (config.Config, common.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		sev, err := common.ParseSeverity(lvl)
		if err != nil {
			return cfg, nil, err
		}
		cfg.LogLevel = sev
	}
	return cfg, common.NewStdLoggerWithWriter(cmd.ErrOrStderr(), cmd.ErrOrStderr(), cfg.LogLevel), nil
}

func tickWindow(cmd *cobra.Command) window.Window {
	start, _ := cmd.Flags().GetInt64("start")
	end, _ := cmd.Flags().GetInt64("end")
	return window.Window{Start: pipe.Tick(start), End: pipe.Tick(end)}
}

func runFormat(format lister.Format) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := settings(cmd)
		if err != nil {
			return err
		}
		lc := lister.Config{
			TracePath:    args[0],
			Format:       format,
			Window:       tickWindow(cmd),
			Settings:     cfg,
			OutputWriter: cmd.OutOrStdout(),
			Logger:       log,
		}
		switch format {
		case lister.FormatList:
			lc.Relative, _ = cmd.Flags().GetBool("relative")
			lc.PrintStats, _ = cmd.Flags().GetBool("stats")
			lc.NoIdx, _ = cmd.Flags().GetBool("no-idx")
			lc.NoDiags, _ = cmd.Flags().GetBool("no-diags")
			lc.Quiet, _ = cmd.Flags().GetBool("quiet")
			lc.EchoLog, _ = cmd.Flags().GetBool("echo-log")
		case lister.FormatJSON:
			lc.Indent, _ = cmd.Flags().GetBool("indent")
		}
		return lister.Run(lc)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := settings(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.Server.Listen = addr
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.New(cfg, log, nil).ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
