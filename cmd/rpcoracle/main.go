// Package main implements the CLI driver for the rpcoracle analyzer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/rpcoracle/pkg/gosource"
	"github.com/715d/rpcoracle/pkg/modelfile"
	"github.com/715d/rpcoracle/pkg/policy"
	"github.com/715d/rpcoracle/pkg/rpcoracle"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Config holds all command-line configuration options.
type Config struct {
	Packages   []string // the Go packages to analyze
	Model      string   // YAML model analyzed instead of Go packages
	ConfigFile string   // analysis settings
	Services   []string // services to analyze; empty means all
	PolicyDir  string   // where policy files are written; empty disables them
	Reachable  bool     // include structural reachability
	Explain    bool     // include discovery paths and auxiliary problems
	Verbose    bool     // enables structured logs on stderr
	JSON       bool     // enables JSON output format
	BuildTags  []string // build tags to use during package loading
	Tests      bool     // also load test files
	Profile    bool     // enables CPU and memory profiling
}

const (
	exitFatal = 1
	exitError = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "rpcoracle [packages...]",
		Short: "Compute the serializable types of RPC services",
		Long: `rpcoracle analyzes RPC service interfaces and reports, for each service and
wire direction, which types may be serialized and which may be instantiated.

Services are Go interfaces marked with //rpc:service; types opt into
serialization with //rpc:serializable. A YAML type model can be analyzed
instead with --model.`,
		Example: `  rpcoracle ./...                          # Analyze all packages
  rpcoracle --service example.com/api.Shapes ./api
  rpcoracle --model model.yaml --json      # Analyze a YAML type model
  rpcoracle --policy-dir out ./...         # Write <service>.rpc.policy files`,
		Args:               cobra.ArbitraryArgs,
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("rpcoracle version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Model, "model", "", "Analyze a YAML type model instead of Go packages")
	flags.StringVar(&cfg.ConfigFile, "config", "", "Analysis config file (YAML)")
	flags.StringArrayVar(&cfg.Services, "service", nil, "Service to analyze (repeatable; default all)")
	flags.StringVar(&cfg.PolicyDir, "policy-dir", "", "Write a serialization policy per service to this directory")
	flags.BoolVar(&cfg.Reachable, "reachable", false, "Include the structurally reachable types of each service")
	flags.BoolVar(&cfg.Explain, "explain", false, "Include why each type was discovered")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	flags.StringSliceVar(&cfg.BuildTags, "build-tags", []string{}, "Build tags to use during package loading")
	flags.BoolVar(&cfg.Tests, "tests", false, "Also load types declared in test files")
	flags.BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	if cfg.Model != "" && len(args) > 0 {
		return errWithCode(errors.New("--model cannot be combined with package arguments"), exitError)
	}
	if len(args) > 0 {
		cfg.Packages = args
	} else {
		cfg.Packages = []string{"./..."}
	}

	result, err := runAnalysis(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if err := writeResults(os.Stdout, result, &cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if result.Stats.FailedServices > 0 {
		return errWithCode(nil, exitFatal)
	}
	return nil
}

func runAnalysis(ctx context.Context, cfg *Config) (*Result, error) {
	start := time.Now()

	analysisCfg, err := rpcoracle.LoadConfig(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	u, services, err := loadUniverse(ctx, cfg, analysisCfg)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded universe", "classes", len(u.Classes()), "services", len(services))

	names := cfg.Services
	if len(names) == 0 {
		names = analysisCfg.Services
	}
	services, err = rpcoracle.ResolveServices(u, names, services)
	if err != nil {
		return nil, err
	}

	analyzer, err := rpcoracle.NewAnalyzer(u, rpcoracle.AnalyzerOptions{
		Config:    *analysisCfg,
		Reachable: cfg.Reachable,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	results, err := analyzer.Analyze(ctx, services)
	if err != nil {
		return nil, err
	}
	logProblems(ctx, results)

	if cfg.PolicyDir != "" {
		if err := writePolicies(cfg.PolicyDir, u, results); err != nil {
			return nil, err
		}
	}

	duration := time.Since(start)
	slog.Info("analysis completed", "dur", duration)
	return newResult(results, cfg, duration), nil
}

// loadUniverse reads the model file or loads and converts Go packages.
// Go sources default to the synthetic serialization marker.
func loadUniverse(ctx context.Context, cfg *Config, analysisCfg *rpcoracle.Config) (*typemodel.Universe, []*typemodel.Class, error) {
	if cfg.Model != "" {
		slog.Info("loading model", "file", cfg.Model)
		m, err := modelfile.Load(cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return m.Universe, m.Services, nil
	}

	slog.Info("loading packages", "packages", cfg.Packages)
	if len(cfg.BuildTags) > 0 {
		slog.Info("using build tags", "tags", cfg.BuildTags)
	}
	pkgs, err := gosource.LoadPackages(ctx, gosource.LoaderOptions{
		Packages:  cfg.Packages,
		BuildTags: cfg.BuildTags,
		Tests:     cfg.Tests,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("loaded packages", "num", len(pkgs))

	prog, err := gosource.Convert(ctx, pkgs, gosource.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("convert packages: %w", err)
	}
	if len(analysisCfg.Markers) == 0 {
		analysisCfg.Markers = []string{gosource.MarkerName}
	}
	return prog.Universe, prog.Services, nil
}

func logProblems(ctx context.Context, results []*rpcoracle.ServiceResult) {
	for _, r := range results {
		logger := slog.With("service", r.Service.Name())
		logDirection(ctx, logger.With("direction", "from_client"), r.FromClient)
		logDirection(ctx, logger.With("direction", "to_client"), r.ToClient)
	}
}

func logDirection(ctx context.Context, logger *slog.Logger, d *rpcoracle.Direction) {
	if d.Fatal() {
		d.Problems.LogFatal(ctx, logger, slog.LevelError)
		return
	}
	d.Problems.Log(ctx, logger, slog.LevelWarn, slog.LevelDebug)
}

// writePolicies writes one policy file per service. Services with a failed
// direction get none.
func writePolicies(dir string, u *typemodel.Universe, results []*rpcoracle.ServiceResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	for _, r := range results {
		if r.Fatal() {
			slog.Warn("skipping policy of failed service", "service", r.Service.Name())
			continue
		}
		path := filepath.Join(dir, policy.FileName(r.Service.Name()))
		if err := writePolicy(path, r.Policy(u)); err != nil {
			return err
		}
		slog.Info("wrote policy", "file", path)
	}
	return nil
}

func writePolicy(path string, p *policy.Policy) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	if _, err := p.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write policy %s: %w", path, err)
	}
	return f.Close()
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		cpuProfile = nil
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error { return e.err }
