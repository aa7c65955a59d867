package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	report "github.com/goliatone/go-report"
)

// Static produces deterministic fixture data: the same template and request
// always yield the same rows. It backs the CLI demo and tests.
type Static struct {
	Sections int
	Rows     int
	// Delay is slept before each section, honouring cancellation.
	Delay time.Duration
	Clock func() time.Time
}

func (s Static) Generate(ctx context.Context, templateRef string, req report.Request) (report.Data, error) {
	sections := max(s.Sections, 1)
	rows := max(s.Rows, 0)
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}

	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s", templateRef, req.Type, req.Context.AgencyID)
	seed := int(h.Sum32() % 1000)

	data := report.Data{
		Title:   fmt.Sprintf("%s report", req.Type),
		Summary: map[string]any{"template": templateRef},
	}
	if req.Options.Title != "" {
		data.Title = req.Options.Title
	}

	total := 0
	for i := range sections {
		if s.Delay > 0 {
			t := time.NewTimer(s.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return report.Data{}, context.Cause(ctx)
			case <-t.C:
			}
		}
		if err := Checkpoint(ctx); err != nil {
			return report.Data{}, err
		}

		sec := report.Section{
			Name:    fmt.Sprintf("Section %d", i+1),
			Columns: []string{"id", "label", "amount"},
			Totals:  map[string]any{},
		}
		sum := 0
		for j := range rows {
			amount := (seed + i*31 + j*7) % 500
			sum += amount
			sec.Rows = append(sec.Rows, []any{j + 1, fmt.Sprintf("item-%d-%d", i+1, j+1), amount})
		}
		sec.Totals["amount"] = sum
		total += len(sec.Rows)
		data.Sections = append(data.Sections, sec)
	}

	data.RecordCount = total
	data.GeneratedAt = clock()
	return data, nil
}
