// Package rpcoracle analyzes RPC service interfaces and reports which
// types each of them can send and receive.
package rpcoracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"

	"golang.org/x/sync/errgroup"

	"github.com/715d/rpcoracle/internal/filter"
	"github.com/715d/rpcoracle/internal/problems"
	"github.com/715d/rpcoracle/internal/reachable"
	"github.com/715d/rpcoracle/internal/sto"
	"github.com/715d/rpcoracle/pkg/modelfile"
	"github.com/715d/rpcoracle/pkg/policy"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	Config Config

	// Reachable also computes the structural reachability of each service.
	Reachable bool

	// Logger receives progress and problem logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// Analyzer runs the serializability analysis of services over one sealed
// universe. It is safe for concurrent use.
type Analyzer struct {
	u          *typemodel.Universe
	opts       AnalyzerOptions
	filter     filter.Filter
	extraRoots []typemodel.Type
	reach      *reachable.Oracle
}

// Direction is the result of one wire direction of a service.
type Direction struct {
	Roots    []typemodel.Type
	Oracle   *sto.SerializableTypeOracle
	Problems *problems.Report

	// Err is set when the build failed; it wraps sto.ErrUnableToComplete.
	Err error
}

// Fatal reports whether the build failed.
func (d *Direction) Fatal() bool { return d.Err != nil }

// ServiceResult is the analysis of one service interface.
type ServiceResult struct {
	Service *typemodel.Class

	// FromClient covers method parameters; ToClient covers results,
	// thrown types and the configured extra roots.
	FromClient *Direction
	ToClient   *Direction

	// Reachable is set when AnalyzerOptions.Reachable is.
	Reachable []typemodel.Type
}

// Fatal reports whether either direction failed.
func (r *ServiceResult) Fatal() bool { return r.FromClient.Fatal() || r.ToClient.Fatal() }

// Policy returns the serialization policy of the service.
func (r *ServiceResult) Policy(u *typemodel.Universe) *policy.Policy {
	return policy.New(u, r.FromClient.Oracle, r.ToClient.Oracle)
}

// NewAnalyzer creates an analyzer over a sealed universe.
func NewAnalyzer(u *typemodel.Universe, opts AnalyzerOptions) (*Analyzer, error) {
	if !u.Sealed() {
		return nil, errors.New("universe must be sealed before analysis")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	f, err := opts.Config.filter()
	if err != nil {
		return nil, err
	}

	a := &Analyzer{u: u, opts: opts, filter: f}
	for _, expr := range opts.Config.ExtraToClientRoots {
		t, err := modelfile.ParseType(u, expr)
		if err != nil {
			return nil, fmt.Errorf("extra to-client root %q: %w", expr, err)
		}
		a.extraRoots = append(a.extraRoots, t)
	}
	if opts.Reachable {
		a.reach = reachable.New(u)
	}
	return a, nil
}

// ResolveServices looks up service interfaces by name. With no names it
// returns every fallback service.
func ResolveServices(u *typemodel.Universe, names []string, fallback []*typemodel.Class) ([]*typemodel.Class, error) {
	if len(names) == 0 {
		return fallback, nil
	}
	var out []*typemodel.Class
	var missing []string
	for _, name := range names {
		c, ok := u.Lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, c)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown services: %v", missing)
	}
	return out, nil
}

// Analyze builds both directions of every service. Services are analyzed
// concurrently; results keep the order of services. A failed build is
// reported in its Direction, not as an error.
func (a *Analyzer) Analyze(ctx context.Context, services []*typemodel.Class) ([]*ServiceResult, error) {
	if len(services) == 0 {
		return nil, errors.New("no services provided")
	}
	for _, s := range services {
		if !s.IsInterface() {
			return nil, fmt.Errorf("service %s is not an interface", s.Name())
		}
	}

	// Each goroutine writes only its own index.
	results := make([]*ServiceResult, len(services))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx, s := range services {
		g.Go(func() error {
			r, err := a.analyzeService(ctx, s)
			if err != nil {
				return fmt.Errorf("service %s: %w", s.Name(), err)
			}
			results[idx] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Analyzer) analyzeService(ctx context.Context, s *typemodel.Class) (*ServiceResult, error) {
	logger := a.opts.Logger.With("service", s.Name())
	logger.Info("analyzing service", "methods", len(s.Methods))

	var fromClient, toClient []typemodel.Type
	for _, m := range s.Methods {
		fromClient = append(fromClient, m.Params...)
		toClient = append(toClient, m.Results...)
		toClient = append(toClient, m.Throws...)
	}
	toClient = append(toClient, a.extraRoots...)

	r := &ServiceResult{Service: s}
	var err error
	if r.FromClient, err = a.build(ctx, logger.With("direction", "from_client"), fromClient); err != nil {
		return nil, err
	}
	if r.ToClient, err = a.build(ctx, logger.With("direction", "to_client"), toClient); err != nil {
		return nil, err
	}
	if a.reach != nil {
		r.Reachable = a.reach.TypesReachableFromInterface(s)
	}
	logger.Info("service analyzed", "fatal", r.Fatal())
	return r, nil
}

// build runs one builder. Only context errors are returned; analysis
// failures are recorded in the Direction.
func (a *Analyzer) build(ctx context.Context, logger *slog.Logger, roots []typemodel.Type) (*Direction, error) {
	opts := a.opts.Config.builderOptions(a.filter)
	opts.Logger = logger
	b, err := sto.NewBuilder(a.u, opts)
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		b.AddRootType(root)
	}

	d := &Direction{Roots: b.Roots()}
	d.Oracle, d.Err = b.Build(ctx)
	d.Problems = b.Problems()
	if d.Err != nil && !errors.Is(d.Err, sto.ErrUnableToComplete) {
		return nil, d.Err
	}
	if d.Oracle != nil {
		logger.Debug("build complete",
			"roots", len(d.Roots),
			"serializable", len(d.Oracle.SerializableTypes()),
			"instantiable", len(d.Oracle.InstantiableTypes()))
	}
	return d, nil
}

// Summary counts the types and failures across results.
type Summary struct {
	Services                int `json:"services"`
	FailedServices          int `json:"failed_services"`
	SerializableTypes       int `json:"serializable_types"`
	InstantiableTypes       int `json:"instantiable_types"`
	FatalProblemEntries     int `json:"fatal_problem_entries"`
	AuxiliaryProblemEntries int `json:"auxiliary_problem_entries"`
}

// Summarize counts distinct serializable and instantiable types over all
// results and directions.
func Summarize(results []*ServiceResult) Summary {
	s := Summary{Services: len(results)}
	serializable := make(map[typemodel.Type]struct{})
	instantiable := make(map[typemodel.Type]struct{})
	for _, r := range results {
		if r.Fatal() {
			s.FailedServices++
		}
		for _, d := range []*Direction{r.FromClient, r.ToClient} {
			if d.Oracle != nil {
				for _, t := range d.Oracle.SerializableTypes() {
					serializable[t] = struct{}{}
				}
				for _, t := range d.Oracle.InstantiableTypes() {
					instantiable[t] = struct{}{}
				}
			}
			s.FatalProblemEntries += len(d.Problems.FatalEntries())
			s.AuxiliaryProblemEntries += len(d.Problems.AuxiliaryEntries())
		}
	}
	s.SerializableTypes = len(serializable)
	s.InstantiableTypes = len(instantiable)
	return s
}
