// Package problems accumulates serializability diagnostics keyed by type and
// reports them in a deterministic order once analysis is done.
package problems

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Priority classifies a problem.
type Priority int

const (
	// Fatal problems fail the build.
	Fatal Priority = iota
	// Default problems are reported but do not by themselves fail the build.
	Default
	// Auxiliary problems are supporting detail: warnings and notes.
	Auxiliary
)

func (p Priority) String() string {
	switch p {
	case Fatal:
		return "fatal"
	case Auxiliary:
		return "auxiliary"
	default:
		return "default"
	}
}

// Problem is a single diagnostic with optional detail lines.
type Problem struct {
	Message  string   `json:"message"`
	Details  []string `json:"details,omitempty"`
	Priority Priority `json:"-"`
}

// Entry groups the problems recorded for one type.
type Entry struct {
	Type     typemodel.Type
	Problems []Problem
}

// Report collects problems. Fatal problems are a subset of all problems;
// auxiliary problems are kept apart from both.
type Report struct {
	all         map[typemodel.Type][]Problem
	fatal       map[typemodel.Type][]Problem
	auxiliaries map[typemodel.Type][]Problem
	context     typemodel.Type
}

// New creates an empty report.
func New() *Report {
	return &Report{
		all:         make(map[typemodel.Type][]Problem),
		fatal:       make(map[typemodel.Type][]Problem),
		auxiliaries: make(map[typemodel.Type][]Problem),
	}
}

// SetContext sets the type every subsequently added message is attributed
// to as "reached via". A nil context clears it.
func (r *Report) SetContext(t typemodel.Type) { r.context = t }

// Add records a problem for t.
func (r *Report) Add(t typemodel.Type, message string, priority Priority, details ...string) {
	if r.context != nil {
		message += " (reached via " + r.context.Name() + ")"
	}
	p := Problem{Message: message, Details: details, Priority: priority}
	if priority == Auxiliary {
		r.auxiliaries[t] = append(r.auxiliaries[t], p)
		return
	}
	r.all[t] = append(r.all[t], p)
	if priority == Fatal {
		r.fatal[t] = append(r.fatal[t], p)
	}
}

// Merge appends every problem of other, keeping their priorities and
// already-attached context.
func (r *Report) Merge(other *Report) {
	for t, ps := range other.all {
		r.all[t] = append(r.all[t], ps...)
	}
	for t, ps := range other.fatal {
		r.fatal[t] = append(r.fatal[t], ps...)
	}
	for t, ps := range other.auxiliaries {
		r.auxiliaries[t] = append(r.auxiliaries[t], ps...)
	}
}

// HasFatalProblems reports whether any fatal problem was recorded.
func (r *Report) HasFatalProblems() bool { return len(r.fatal) > 0 }

// Empty reports whether nothing at all was recorded.
func (r *Report) Empty() bool {
	return len(r.all) == 0 && len(r.auxiliaries) == 0
}

// ProblemsFor returns the fatal and default messages for t.
func (r *Report) ProblemsFor(t typemodel.Type) []string { return messages(r.all[t]) }

// AuxiliaryFor returns the auxiliary messages for t.
func (r *Report) AuxiliaryFor(t typemodel.Type) []string { return messages(r.auxiliaries[t]) }

// WorstMessageFor returns the first message of the most severe priority
// recorded for t, or "" when there is none.
func (r *Report) WorstMessageFor(t typemodel.Type) string {
	for _, m := range []map[typemodel.Type][]Problem{r.fatal, r.all, r.auxiliaries} {
		if ps := m[t]; len(ps) > 0 {
			return ps[0].Message
		}
	}
	return ""
}

// Entries returns the fatal and default problems grouped by type, sorted
// by type name.
func (r *Report) Entries() []Entry { return sorted(r.all) }

// FatalEntries returns the fatal problems grouped by type.
func (r *Report) FatalEntries() []Entry { return sorted(r.fatal) }

// AuxiliaryEntries returns the auxiliary problems grouped by type.
func (r *Report) AuxiliaryEntries() []Entry { return sorted(r.auxiliaries) }

// Log writes the auxiliary problems at auxLevel followed by every other
// problem at problemLevel.
func (r *Report) Log(ctx context.Context, logger *slog.Logger, problemLevel, auxLevel slog.Level) {
	logEntries(ctx, logger, auxLevel, r.AuxiliaryEntries())
	logEntries(ctx, logger, problemLevel, r.Entries())
}

// LogFatal writes only the fatal problems.
func (r *Report) LogFatal(ctx context.Context, logger *slog.Logger, level slog.Level) {
	logEntries(ctx, logger, level, r.FatalEntries())
}

func logEntries(ctx context.Context, logger *slog.Logger, level slog.Level, entries []Entry) {
	if !logger.Enabled(ctx, level) {
		return
	}
	for _, e := range entries {
		for _, p := range e.Problems {
			if len(p.Details) > 0 {
				logger.Log(ctx, level, p.Message, "type", e.Type.Name(), "details", p.Details)
				continue
			}
			logger.Log(ctx, level, p.Message, "type", e.Type.Name())
		}
	}
}

func sorted(m map[typemodel.Type][]Problem) []Entry {
	keys := slices.SortedFunc(maps.Keys(m), typemodel.Compare)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Type: k, Problems: m[k]})
	}
	return out
}

func messages(ps []Problem) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Message)
	}
	return out
}

// String renders every problem, auxiliary ones first, one per line.
func (r *Report) String() string {
	var b strings.Builder
	for _, group := range [][]Entry{r.AuxiliaryEntries(), r.Entries()} {
		for _, e := range group {
			for _, p := range e.Problems {
				b.WriteString(p.Priority.String())
				b.WriteString(": ")
				b.WriteString(p.Message)
				b.WriteByte('\n')
				for _, d := range p.Details {
					b.WriteString("    ")
					b.WriteString(d)
					b.WriteByte('\n')
				}
			}
		}
	}
	return b.String()
}
