package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"moran/internal/storage"
	"moran/internal/tracing"
	"moran/pkg/moran"
)

func main() {
	loadEnv(".env.local", ".env")
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	shutdown, err := tracing.Setup(ctx, "moranctl")
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

// loadEnv reads dotenv files that exist. Variables already set in the
// environment win.
func loadEnv(filenames ...string) {
	for _, filename := range filenames {
		if s, err := os.Stat(filename); err == nil && !s.IsDir() {
			_ = godotenv.Load(filename)
		}
	}
}

type globalOptions struct {
	storeKind  string
	dbPath     string
	runsDir    string
	exportsDir string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "moranctl",
		Short:         "Run Moran processes over iterated prisoner's dilemma populations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.storeKind, "store", storage.DefaultStoreKind(), "store backend: memory|sqlite|leveldb")
	flags.StringVar(&opts.dbPath, "db-path", "", "sqlite file or leveldb directory (default moran.db or moran.ldb)")
	flags.StringVar(&opts.runsDir, "runs-dir", "runs", "run artifacts directory")
	flags.StringVar(&opts.exportsDir, "exports-dir", "exports", "export destination directory")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(
		newInitCmd(opts),
		newResetCmd(opts),
		newStrategiesCmd(opts),
		newRunCmd(opts),
		newFixationCmd(opts),
		newFixationsCmd(opts),
		newRunsCmd(opts),
		newPopulationsCmd(opts),
		newScoresCmd(opts),
		newReplacementsCmd(opts),
		newDiagnosticsCmd(opts),
		newShowCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func (o *globalOptions) client() (*moran.Client, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return moran.New(moran.Options{
		StoreKind:  o.storeKind,
		DBPath:     o.dbPath,
		RunsDir:    o.runsDir,
		ExportsDir: o.exportsDir,
		Logger:     logger,
	})
}

// withClient opens a client for the duration of fn.
func (o *globalOptions) withClient(fn func(*moran.Client) error) error {
	client, err := o.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return fn(client)
}

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				if err := client.Init(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s\n", opts.storeKind)
				return nil
			})
		},
	}
}

func newResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe persisted runs from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				if err := client.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset store=%s\n", opts.storeKind)
				return nil
			})
		},
	}
}

func newStrategiesCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List registered strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				names := client.Strategies()
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), names)
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit strategies as JSON")
	return cmd
}

type runOutput struct {
	RunID             string         `json:"run_id"`
	ArtifactsDir      string         `json:"artifacts_dir"`
	PopulationSize    int            `json:"population_size"`
	Generations       int            `json:"generations"`
	Winner            string         `json:"winner,omitempty"`
	Fixated           bool           `json:"fixated"`
	Stochastic        bool           `json:"stochastic"`
	FinalDistribution map[string]int `json:"final_distribution"`
	CacheHits         int64          `json:"cache_hits"`
	CacheMisses       int64          `json:"cache_misses"`
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		flags   runFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play one Moran process until a single strategy remains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			return opts.withClient(func(client *moran.Client) error {
				summary, err := client.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := runOutput{
					RunID:             summary.RunID,
					ArtifactsDir:      summary.ArtifactsDir,
					PopulationSize:    summary.PopulationSize,
					Generations:       summary.Generations,
					Winner:            summary.Winner,
					Fixated:           summary.Fixated,
					Stochastic:        summary.Stochastic,
					FinalDistribution: summary.FinalDistribution,
					CacheHits:         summary.CacheHits,
					CacheMisses:       summary.CacheMisses,
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				renderRunSummary(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit run summary as JSON")
	return cmd
}

func newFixationCmd(opts *globalOptions) *cobra.Command {
	var (
		flags        runFlags
		repetitions  int
		jsonOut      bool
		showProgress bool
	)
	cmd := &cobra.Command{
		Use:   "fixation",
		Short: "Repeat a Moran process and report fixation frequencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req moran.FixationRequest
			if flags.config != "" {
				loaded, err := loadFixationRequestFromConfig(flags.config)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				req = loaded
			}
			flags.apply(cmd, &req.RunRequest)
			if flags.config == "" || cmd.Flags().Changed("reps") || req.Repetitions == 0 {
				req.Repetitions = repetitions
			}
			if req.Repetitions <= 0 {
				return errors.New("reps must be > 0")
			}

			return opts.withClient(func(client *moran.Client) error {
				var tracker *fixationProgress
				if showProgress && !jsonOut {
					tracker = startFixationProgress(cmd.ErrOrStderr(), req.Repetitions)
					req.Progress = tracker.update
				}
				summary, err := client.Fixation(cmd.Context(), req)
				if tracker != nil {
					tracker.stop(err == nil)
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				renderFixationSummary(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&repetitions, "reps", 10, "number of repetitions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit fixation summary as JSON")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "show a progress bar on stderr")
	return cmd
}

func newFixationsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "fixations",
		Short: "List recorded fixation experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			return opts.withClient(func(client *moran.Client) error {
				exps, err := client.Fixations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), exps)
				}
				if len(exps) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no fixation experiments found")
					return nil
				}
				renderFixations(cmd.OutOrStdout(), exps)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max experiments to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit experiments as JSON")
	return cmd
}

type runsItem struct {
	RunID          string  `json:"run_id"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	Population     string  `json:"population"`
	PopulationSize int     `json:"population_size"`
	Turns          int     `json:"turns"`
	Noise          float64 `json:"noise"`
	Seed           int64   `json:"seed"`
	Generations    int     `json:"generations"`
	Winner         string  `json:"winner,omitempty"`
	Fixated        bool    `json:"fixated"`
}

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			return opts.withClient(func(client *moran.Client) error {
				runs, err := client.Runs(cmd.Context(), moran.RunsRequest{Limit: limit})
				if err != nil {
					return err
				}
				items := make([]runsItem, 0, len(runs))
				for _, r := range runs {
					items = append(items, runsItem(r))
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no runs found")
					return nil
				}
				renderRuns(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	return cmd
}

type historyFlags struct {
	runID   string
	latest  bool
	limit   int
	jsonOut bool
}

func (f *historyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&f.latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "max generations to show, 0 for all")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "emit history as JSON")
}

func (f *historyFlags) request() moran.HistoryRequest {
	return moran.HistoryRequest{RunID: f.runID, Latest: f.latest, Limit: f.limit}
}

func newPopulationsCmd(opts *globalOptions) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "populations",
		Short: "Show the species distribution per generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				history, err := client.Populations(cmd.Context(), flags.request())
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				renderPopulations(cmd.OutOrStdout(), history)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newScoresCmd(opts *globalOptions) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Show per-player round robin scores per generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				history, err := client.Scores(cmd.Context(), flags.request())
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				renderScores(cmd.OutOrStdout(), history)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newReplacementsCmd(opts *globalOptions) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "replacements",
		Short: "Show the parent and victim chosen each generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				records, err := client.Replacements(cmd.Context(), flags.request())
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				renderReplacements(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDiagnosticsCmd(opts *globalOptions) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show score statistics per generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				diagnostics, err := client.Diagnostics(cmd.Context(), flags.request())
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return writeJSON(cmd.OutOrStdout(), diagnostics)
				}
				renderDiagnostics(cmd.OutOrStdout(), diagnostics)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a run's config, summary and population series from its artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				details, err := client.Show(cmd.Context(), flags.request())
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return writeJSON(cmd.OutOrStdout(), details)
				}
				renderRunDetails(cmd.OutOrStdout(), details)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *moran.Client) error {
				exported, err := client.Export(cmd.Context(), moran.ExportRequest{
					RunID:  runID,
					Latest: latest,
					OutDir: outDir,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to export")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "export directory, defaults to --exports-dir")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
