// Package diag models the diagnostic records read from the host and the
// pure filtering/formatting pipeline the overlay renders from.
package diag

import "strings"

// Severity follows Neovim's convention: a lower ordinal is more severe.
type Severity int

const (
	SeverityError Severity = 1
	SeverityWarn  Severity = 2
	SeverityInfo  Severity = 3
	SeverityHint  Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarn:
		return "warn"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Icon returns the single-letter marker used by the fallback line format.
func (s Severity) Icon() string {
	switch s {
	case SeverityError:
		return "E"
	case SeverityWarn:
		return "W"
	case SeverityInfo:
		return "I"
	case SeverityHint:
		return "H"
	default:
		return "?"
	}
}

// HlGroup returns the stock Neovim highlight group for the severity.
func (s Severity) HlGroup() string {
	switch s {
	case SeverityError:
		return "DiagnosticError"
	case SeverityWarn:
		return "DiagnosticWarn"
	case SeverityInfo:
		return "DiagnosticInfo"
	case SeverityHint:
		return "DiagnosticHint"
	default:
		return "NormalFloat"
	}
}

// ParseSeverity maps a config string to a Severity. Unknown strings map
// to the least severe level so nothing gets filtered by accident.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "error":
		return SeverityError
	case "warn", "warning":
		return SeverityWarn
	case "info", "information":
		return SeverityInfo
	case "hint":
		return SeverityHint
	default:
		return SeverityHint
	}
}

// Range is a 0-based position range attached to a diagnostic.
type Range struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Diagnostic is a read-only snapshot record from the host. Lnum and Col
// are 0-based, as Neovim reports them; -1 means the field was absent
// and the range start is the fallback.
type Diagnostic struct {
	Severity Severity
	Message  string
	Lnum     int
	Col      int
	Range    *Range
	Source   string
}

// Line returns the 0-based line, falling back to the range start.
func (d *Diagnostic) Line() int {
	if d.Lnum >= 0 {
		return d.Lnum
	}
	if d.Range != nil {
		return d.Range.StartLine
	}
	return 0
}

// Column returns the 0-based column, falling back to the range start.
func (d *Diagnostic) Column() int {
	if d.Col >= 0 {
		return d.Col
	}
	if d.Range != nil {
		return d.Range.StartCol
	}
	return 0
}

// FilterSeverity keeps diagnostics at least as severe as floor
// (severity ordinal <= floor, smaller ordinal = more severe).
func FilterSeverity(diags []*Diagnostic, floor Severity) []*Diagnostic {
	kept := make([]*Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Severity <= floor {
			kept = append(kept, d)
		}
	}
	return kept
}

// MostRelevantSource restricts diags to the attached client whose source
// identifier carries the most diagnostics. Ties break by declaration
// order among the attached clients; when no diagnostic matches any
// attached client the first attached client wins. With no attached
// clients the list is returned unfiltered.
func MostRelevantSource(diags []*Diagnostic, clients []string) []*Diagnostic {
	if len(clients) == 0 {
		return diags
	}

	counts := make(map[string]int, len(diags))
	for _, d := range diags {
		counts[d.Source]++
	}

	best := clients[0]
	bestCount := counts[best]
	for _, name := range clients[1:] {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}

	kept := make([]*Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Source == best {
			kept = append(kept, d)
		}
	}
	return kept
}
