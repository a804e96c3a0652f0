package cmd

import (
	"context"
	"errors"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/hybrid-sched/engine"
	"github.com/inference-sim/hybrid-sched/engine/metrics"
	_ "github.com/inference-sim/hybrid-sched/engine/perf" // registers the profile-table predictor
	"github.com/inference-sim/hybrid-sched/engine/trace"
)

var (
	// compose flags
	seed          int64
	numRequests   int
	maxIterations int
	traceLevel    string
	printMetrics  bool
	workloadFile  string
	workloadName  string
	workloadFlags Workload
)

// composeOptions is everything a compose run needs, resolved from flags.
type composeOptions struct {
	Config        FileConfig
	Workload      Workload
	NumRequests   int
	MaxIterations int
	Seed          int64
	TraceLevel    trace.TraceLevel
	Registry      *prometheus.Registry // nil disables metrics
}

// composeReport is printed as YAML at the end of a compose run.
type composeReport struct {
	Submitted       int                 `yaml:"submitted"`
	Rejected        int                 `yaml:"rejected"`
	Finished        int                 `yaml:"finished"`
	Unfinished      int                 `yaml:"unfinished"`
	DeliveredTokens int64               `yaml:"delivered_tokens"`
	Iterations      int                 `yaml:"iterations"`
	Summary         *trace.TraceSummary `yaml:"summary,omitempty"`
}

// runCompose drives a scheduler over a synthetic workload. Output tokens are
// sampled at random; one goroutine per request drains its output stream.
func runCompose(ctx context.Context, opts composeOptions) (*composeReport, error) {
	predictor := engine.NewPerfPredictor(opts.Config.Engine.ProfileResultPath)
	s, err := engine.NewScheduler(opts.Config.Engine, opts.Config.Model, predictor, nil)
	if err != nil {
		return nil, err
	}
	s.Trace = trace.NewCompositionTrace(opts.TraceLevel)
	if opts.Registry != nil {
		s.Metrics = metrics.NewMetrics(opts.Registry)
	}

	rng := newPartitionedRNG(opts.Seed)
	vocab := max(opts.Config.Model.VocabSize, 1)
	raws := generateRequests(opts.Workload, opts.NumRequests, vocab, rng.forSubsystem(subsystemWorkload))
	sampler := rng.forSubsystem(subsystemSampler)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	report := &composeReport{}
	var delivered atomic.Int64
	for _, raw := range raws {
		req, err := s.Submit(raw)
		if err != nil {
			logrus.Warnf("Skipping request: %v", err)
			report.Rejected++
			continue
		}
		report.Submitted++
		g.Go(func() error {
			return req.Stream(gctx, func(engine.StepOutput) error {
				delivered.Add(1)
				return nil
			})
		})
	}

	for s.Iteration() < opts.MaxIterations {
		gpu, cpu := s.NumRunning()
		if s.NumWaiting() == 0 && gpu+cpu == 0 {
			break
		}
		for _, fb := range s.Step() {
			toks := make([]int, fb.BatchSize)
			for i := range toks {
				toks[i] = sampler.Intn(vocab)
			}
			report.Finished += len(s.Apply(fb, toks))
		}
	}
	report.Iterations = s.Iteration()
	report.Unfinished = report.Submitted - report.Finished
	if report.Unfinished > 0 {
		logrus.Warnf("%d requests unfinished after %d iterations", report.Unfinished, report.Iterations)
		cancel()
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	report.DeliveredTokens = delivered.Load()
	if s.Trace.Enabled() {
		report.Summary = trace.Summarize(s.Trace)
	}
	return report, nil
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose iterations over a synthetic workload and report the decisions",
	Run: func(cmd *cobra.Command, args []string) {
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}
		cfg, err := resolveConfig(cmd.Context())
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		wl := workloadFlags
		if workloadFile != "" {
			if wl, err = loadWorkloadPreset(workloadFile, workloadName); err != nil {
				logrus.Fatalf("Failed to load workload: %v", err)
			}
		}
		if err := wl.Validate(); err != nil {
			logrus.Fatalf("Invalid workload: %v", err)
		}

		opts := composeOptions{
			Config:        cfg,
			Workload:      wl,
			NumRequests:   numRequests,
			MaxIterations: maxIterations,
			Seed:          seed,
			TraceLevel:    trace.TraceLevel(traceLevel),
		}
		if printMetrics {
			opts.Registry = prometheus.NewRegistry()
		}
		logrus.Infof("Composing %d requests: %d GPU blocks, %d CPU blocks, %d sub-batches",
			numRequests, cfg.Engine.NumGPUBlocks, cfg.Engine.NumCPUBlocks, cfg.Engine.NumSubBatches)

		report, err := runCompose(cmd.Context(), opts)
		if err != nil {
			logrus.Fatalf("Compose failed: %v", err)
		}
		enc := yaml.NewEncoder(os.Stdout)
		if err := enc.Encode(report); err != nil {
			logrus.Fatalf("Failed to write report: %v", err)
		}
		_ = enc.Close()

		if opts.Registry != nil {
			families, err := opts.Registry.Gather()
			if err != nil {
				logrus.Fatalf("Failed to gather metrics: %v", err)
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
					logrus.Fatalf("Failed to write metrics: %v", err)
				}
			}
		}
	},
}

func init() {
	composeCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for request generation and token sampling")
	composeCmd.Flags().IntVar(&numRequests, "num-requests", 100, "Number of requests")
	composeCmd.Flags().IntVar(&maxIterations, "max-iterations", 100000, "Stop after this many iterations")
	composeCmd.Flags().StringVar(&traceLevel, "trace-level", string(trace.TraceLevelDecisions), "Composition trace level (none, decisions)")
	composeCmd.Flags().BoolVar(&printMetrics, "metrics", false, "Print Prometheus metrics after the report")
	composeCmd.Flags().StringVar(&workloadFile, "workload-file", "", "Path to a workload preset file")
	composeCmd.Flags().StringVar(&workloadName, "workload", "chatbot", "Preset name in --workload-file")

	composeCmd.Flags().IntVar(&workloadFlags.PromptTokensMean, "prompt-tokens", 512, "Average Prompt Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.PromptTokensStdev, "prompt-tokens-stdev", 256, "Stddev Prompt Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.PromptTokensMin, "prompt-tokens-min", 2, "Min Prompt Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.PromptTokensMax, "prompt-tokens-max", 2048, "Max Prompt Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.OutputTokensMean, "output-tokens", 256, "Average Output Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.OutputTokensStdev, "output-tokens-stdev", 128, "Stddev Output Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.OutputTokensMin, "output-tokens-min", 1, "Min Output Token Count")
	composeCmd.Flags().IntVar(&workloadFlags.OutputTokensMax, "output-tokens-max", 2048, "Max Output Token Count")

	rootCmd.AddCommand(composeCmd)
}
