package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/715d/rpcoracle/internal/problems"
	"github.com/715d/rpcoracle/pkg/rpcoracle"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Result is the output of one run.
type Result struct {
	Services []ServiceReport `json:"services"`
	Stats    Stats           `json:"stats"`
}

type Stats struct {
	rpcoracle.Summary
	AnalysisDuration time.Duration `json:"analysis_duration"`
}

type ServiceReport struct {
	Name       string          `json:"name"`
	Fatal      bool            `json:"fatal"`
	FromClient DirectionReport `json:"from_client"`
	ToClient   DirectionReport `json:"to_client"`
	Reachable  []string        `json:"reachable,omitempty"`
}

type DirectionReport struct {
	Roots        []string        `json:"roots"`
	Error        string          `json:"error,omitempty"`
	Serializable []TypeReport    `json:"serializable"`
	Problems     []ProblemReport `json:"problems,omitempty"`
}

type TypeReport struct {
	Name         string   `json:"name"`
	Instantiable bool     `json:"instantiable"`
	Path         []string `json:"path,omitempty"`
}

type ProblemReport struct {
	Type     string   `json:"type"`
	Priority string   `json:"priority"`
	Message  string   `json:"message"`
	Details  []string `json:"details,omitempty"`
}

func newResult(results []*rpcoracle.ServiceResult, cfg *Config, dur time.Duration) *Result {
	r := &Result{Services: make([]ServiceReport, 0, len(results))}
	r.Stats.Summary = rpcoracle.Summarize(results)
	r.Stats.AnalysisDuration = dur

	for _, sr := range results {
		r.Services = append(r.Services, ServiceReport{
			Name:       sr.Service.Name(),
			Fatal:      sr.Fatal(),
			FromClient: newDirectionReport(sr.FromClient, cfg.Explain),
			ToClient:   newDirectionReport(sr.ToClient, cfg.Explain),
			Reachable:  typeNames(sr.Reachable),
		})
	}
	return r
}

func newDirectionReport(d *rpcoracle.Direction, explain bool) DirectionReport {
	dr := DirectionReport{
		Roots:        typeNames(d.Roots),
		Serializable: []TypeReport{},
	}
	if d.Err != nil {
		dr.Error = d.Err.Error()
	}
	if d.Oracle != nil {
		for _, t := range d.Oracle.SerializableTypes() {
			tr := TypeReport{Name: t.Name(), Instantiable: d.Oracle.MaybeInstantiated(t)}
			if explain {
				tr.Path = d.Oracle.Path(t).Lines()
			}
			dr.Serializable = append(dr.Serializable, tr)
		}
	}
	dr.Problems = appendProblems(dr.Problems, d.Problems.Entries())
	if explain {
		dr.Problems = appendProblems(dr.Problems, d.Problems.AuxiliaryEntries())
	}
	return dr
}

func appendProblems(out []ProblemReport, entries []problems.Entry) []ProblemReport {
	for _, e := range entries {
		for _, p := range e.Problems {
			out = append(out, ProblemReport{
				Type:     e.Type.Name(),
				Priority: p.Priority.String(),
				Message:  p.Message,
				Details:  p.Details,
			})
		}
	}
	return out
}

func typeNames(types []typemodel.Type) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, t.Name())
	}
	return out
}

func writeResults(w io.Writer, result *Result, cfg *Config) error {
	var output string
	var err error

	if cfg.JSON {
		output, err = formatJSONOutput(result)
	} else {
		output = formatTextOutput(result, cfg)
	}

	if err != nil {
		return err
	}

	_, err = io.WriteString(w, output)
	return err
}

func formatJSONOutput(result *Result) (string, error) {
	data, err := json.MarshalIndent(jOutput{
		Result:    result,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

type jOutput struct {
	*Result
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func formatTextOutput(result *Result, cfg *Config) string {
	var output strings.Builder

	if cfg.Verbose {
		slog.Info("",
			"services", result.Stats.Services,
			"failed_services", result.Stats.FailedServices,
			"serializable_types", result.Stats.SerializableTypes,
			"instantiable_types", result.Stats.InstantiableTypes,
			"analysis_duration", result.Stats.AnalysisDuration.String())
	}

	for _, s := range result.Services {
		output.WriteString(s.Name)
		if s.Fatal {
			output.WriteString(" (FAILED)")
		}
		output.WriteByte('\n')
		writeDirection(&output, "from client", s.FromClient)
		writeDirection(&output, "to client", s.ToClient)
		if len(s.Reachable) > 0 {
			output.WriteString("  reachable:\n")
			for _, name := range s.Reachable {
				fmt.Fprintf(&output, "    %s\n", name)
			}
		}
	}
	return output.String()
}

func writeDirection(b *strings.Builder, label string, d DirectionReport) {
	fmt.Fprintf(b, "  %s:", label)
	if d.Error != "" {
		fmt.Fprintf(b, " %s", d.Error)
	}
	b.WriteByte('\n')
	for _, t := range d.Serializable {
		if t.Instantiable {
			fmt.Fprintf(b, "    %s\n", t.Name)
		} else {
			fmt.Fprintf(b, "    %s (not instantiable)\n", t.Name)
		}
		for _, line := range t.Path {
			fmt.Fprintf(b, "      %s\n", line)
		}
	}
	for _, p := range d.Problems {
		fmt.Fprintf(b, "    [%s] %s: %s\n", p.Priority, p.Type, p.Message)
		for _, detail := range p.Details {
			fmt.Fprintf(b, "      %s\n", detail)
		}
	}
}
