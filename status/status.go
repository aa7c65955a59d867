// Package status defines the report lifecycle states, their static metadata
// and the table of legal transitions between them.
package status

import (
	"fmt"
	"slices"
	"strings"

	report "github.com/goliatone/go-report"
)

// Status is a report lifecycle state.
type Status string

const (
	Pending      Status = "pending"
	Validating   Status = "validating"
	Running      Status = "running"
	Processing   Status = "processing"
	Rendering    Status = "rendering"
	Completed    Status = "completed"
	Failed       Status = "failed"
	Cancelled    Status = "cancelled"
	Timeout      Status = "timeout"
	Scheduled    Status = "scheduled"
	Paused       Status = "paused"
	Exporting    Status = "exporting"
	Exported     Status = "exported"
	ExportFailed Status = "export_failed"
)

// Metadata is the static description of a status.
type Metadata struct {
	DisplayName string
	// Terminal marks the end of the execution lifecycle. Completed is
	// terminal but still admits the export sub-flow.
	Terminal      bool
	Error         bool
	AllowRetry    bool
	ShowsProgress bool
	NextStates    []Status
	NextAction    string
}

var table = map[Status]Metadata{
	Pending: {
		DisplayName: "Pending",
		NextStates:  []Status{Validating, Running, Scheduled, Cancelled, Failed},
		NextAction:  "Wait for the report to start",
	},
	Validating: {
		DisplayName:   "Validating",
		ShowsProgress: true,
		NextStates:    []Status{Running, Failed, Cancelled},
		NextAction:    "Wait for validation to finish",
	},
	Scheduled: {
		DisplayName: "Scheduled",
		NextStates:  []Status{Pending, Cancelled},
		NextAction:  "Wait for the scheduled run",
	},
	Running: {
		DisplayName:   "Running",
		ShowsProgress: true,
		NextStates:    []Status{Processing, Rendering, Paused, Completed, Failed, Cancelled, Timeout},
		NextAction:    "Wait for the report to finish",
	},
	Processing: {
		DisplayName:   "Processing data",
		ShowsProgress: true,
		NextStates:    []Status{Rendering, Completed, Failed, Cancelled, Timeout},
		NextAction:    "Wait for the report to finish",
	},
	Rendering: {
		DisplayName:   "Rendering",
		ShowsProgress: true,
		NextStates:    []Status{Completed, Failed, Cancelled, Timeout},
		NextAction:    "Wait for the report to finish",
	},
	Paused: {
		DisplayName: "Paused",
		NextStates:  []Status{Running, Cancelled, Timeout},
		NextAction:  "Resume or cancel the report",
	},
	Completed: {
		DisplayName: "Completed",
		Terminal:    true,
		NextStates:  []Status{Exporting},
		NextAction:  "Download the report",
	},
	Failed: {
		DisplayName: "Failed",
		Terminal:    true,
		Error:       true,
		AllowRetry:  true,
		NextAction:  "Retry the report; contact support if it keeps failing",
	},
	Cancelled: {
		DisplayName: "Cancelled",
		Terminal:    true,
		AllowRetry:  true,
		NextAction:  "Run the report again when needed",
	},
	Timeout: {
		DisplayName: "Timed out",
		Terminal:    true,
		Error:       true,
		AllowRetry:  true,
		NextAction:  "Narrow the date range or add filters, then run the report again",
	},
	Exporting: {
		DisplayName:   "Exporting",
		ShowsProgress: true,
		NextStates:    []Status{Exported, ExportFailed},
		NextAction:    "Wait for the export to finish",
	},
	Exported: {
		DisplayName: "Exported",
		Terminal:    true,
		NextAction:  "Download the exported file",
	},
	ExportFailed: {
		DisplayName: "Export failed",
		Terminal:    true,
		Error:       true,
		AllowRetry:  true,
		NextStates:  []Status{Exporting},
		NextAction:  "Retry the export or choose another format",
	},
}

// All returns every status in declaration order.
func All() []Status {
	return []Status{
		Pending, Validating, Running, Processing, Rendering,
		Completed, Failed, Cancelled, Timeout, Scheduled,
		Paused, Exporting, Exported, ExportFailed,
	}
}

// Of returns the metadata of s. NextStates is a copy.
func Of(s Status) (Metadata, bool) {
	md, ok := table[s]
	if !ok {
		return Metadata{}, false
	}
	md.NextStates = slices.Clone(md.NextStates)
	return md, true
}

// Parse maps a string to a known status.
func Parse(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := table[s]; !ok {
		return "", report.NewError(report.ErrValidation, fmt.Sprintf("unknown status %q", value), nil, nil)
	}
	return s, nil
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := table[s]
	return ok
}

func (s Status) DisplayName() string { return table[s].DisplayName }
func (s Status) IsTerminal() bool    { return table[s].Terminal }
func (s Status) IsError() bool       { return table[s].Error }
func (s Status) AllowsRetry() bool   { return table[s].AllowRetry }
func (s Status) ShowsProgress() bool { return table[s].ShowsProgress }
func (s Status) NextAction() string  { return table[s].NextAction }

// CanTransition reports whether to is in the next-set of from.
func CanTransition(from, to Status) bool {
	md, ok := table[from]
	if !ok {
		return false
	}
	return slices.Contains(md.NextStates, to)
}

// ValidateTransition fails with REPORT_INVALID_TRANSITION when the move is
// not in the table.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	md := table[from]
	allowed := make([]string, len(md.NextStates))
	for i, s := range md.NextStates {
		allowed[i] = string(s)
	}
	return report.NewError(
		report.ErrInvalidTransition,
		fmt.Sprintf("cannot transition from %s to %s", from, to),
		nil,
		map[string]any{
			"from":    string(from),
			"to":      string(to),
			"allowed": allowed,
		},
	)
}
