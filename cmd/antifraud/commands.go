package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/ingest"
	"github.com/mbd888/paymo/internal/logging"
	"github.com/mbd888/paymo/internal/pipeline"
	"github.com/mbd888/paymo/internal/policy"
	"github.com/mbd888/paymo/internal/sink"
)

// env carries what every subcommand resolves from the persistent flags.
type env struct {
	policy *policy.Policy
	logger *slog.Logger
	loc    *time.Location
}

func resolveEnv(cmd *cobra.Command) (*env, error) {
	flags := cmd.Flags()
	level, _ := flags.GetString("log-level")
	format, _ := flags.GetString("log-format")
	tiers, _ := flags.GetString("tiers")
	zone, _ := flags.GetString("timezone")

	// Logs go to stderr so stdout stays machine-readable.
	logger := logging.NewWriter(cmd.ErrOrStderr(), level, format)

	pol := policy.Default()
	if tiers != "" {
		var err error
		if pol, err = policy.LoadFile(tiers); err != nil {
			return nil, err
		}
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid --timezone: %w", err)
	}
	return &env{policy: pol, logger: logger, loc: loc}, nil
}

func (e *env) open(path string) (*ingest.File, error) {
	f, err := ingest.Open(path)
	if err != nil {
		return nil, err
	}
	f.WithLocation(e.loc).WithLogger(e.logger)
	return f, nil
}

func runCmd() *cobra.Command {
	var batchPath, streamPath, outDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the batch feed, classify the stream feed, and write output<N>.txt files",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			batch, err := e.open(batchPath)
			if err != nil {
				return err
			}
			defer func() { _ = batch.Close() }()

			stream, err := e.open(streamPath)
			if err != nil {
				return err
			}
			defer func() { _ = stream.Close() }()

			out, err := sink.NewFileSink(outDir, e.policy.Len()+1)
			if err != nil {
				return err
			}

			engine := classifier.NewEngine(e.policy).WithLogger(e.logger)
			sum, runErr := pipeline.Run(ctx, engine, batch, stream, out, e.logger)
			if err := errors.Join(runErr, out.Close()); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "batch:       %d loaded, %d skipped\n", sum.Batch.Loaded, batch.Skipped())
			fmt.Fprintf(w, "stream:      %d classified, %d skipped\n", sum.Streamed, stream.Skipped())
			fmt.Fprintf(w, "duplicates:  %d\n", sum.Duplicates)
			fmt.Fprintf(w, "unreachable: %d\n", sum.Unreachable)
			fmt.Fprintf(w, "graph:       %d parties, %d edges\n", sum.Batch.Graph.Nodes, sum.Batch.Graph.Edges)
			fmt.Fprintf(w, "elapsed:     %s\n", sum.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(w, "output:      %s (%d files)\n", outDir, e.policy.Len()+1)
			return nil
		},
	}

	cmd.Flags().StringVarP(&batchPath, "batch", "b", "paymo_input/batch_payment.txt", "Historical payment feed")
	cmd.Flags().StringVarP(&streamPath, "stream", "s", "paymo_input/stream_payment.txt", "Payment feed to classify")
	cmd.Flags().StringVarP(&outDir, "out", "o", "paymo_output", "Directory for output<N>.txt files")
	return cmd
}

func distanceCmd() *cobra.Command {
	var batchPath string
	var bound int

	cmd := &cobra.Command{
		Use:   "distance <partyA> <partyB>",
		Short: "Load the batch feed and print the hop distance between two parties",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("bound") {
				bound = e.policy.MaxBound()
			}

			batch, err := e.open(batchPath)
			if err != nil {
				return err
			}
			defer func() { _ = batch.Close() }()

			ctx := cmd.Context()
			engine := classifier.NewEngine(e.policy).WithLogger(e.logger)
			if _, err := engine.Load(ctx, batch); err != nil {
				return err
			}

			d, err := engine.Distance(ctx, args[0], args[1], bound)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "distance: %s\n", d)
			for i, v := range e.policy.Classify(d) {
				t := e.policy.Tiers()[i]
				fmt.Fprintf(w, "%-10s <= %-2d %s\n", t.Name, t.Bound, v)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&batchPath, "batch", "b", "paymo_input/batch_payment.txt", "Historical payment feed")
	cmd.Flags().IntVar(&bound, "bound", 0, "Maximum hops to search (default: widest tier; 0 searches the whole graph)")
	return cmd
}

func tiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Print the tier list in the YAML format --tiers accepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			data, err := e.policy.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
