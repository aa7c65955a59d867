package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-errors"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/recurrence"
	"github.com/goliatone/go-report/status"
)

func loadSchedule(path string) (recurrence.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return recurrence.Config{}, errors.Wrap(err, errors.CategoryValidation, "read schedule file").
			WithTextCode(report.ErrCodeScheduleInvalid)
	}
	return recurrence.Parse(raw)
}

func parseInstant(value string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.CategoryValidation, "instants must be RFC3339").
			WithTextCode(report.ErrCodeValidation)
	}
	return t, nil
}

type nextCmd struct {
	File  string `help:"Schedule YAML file." required:"" type:"existingfile"`
	From  string `help:"Reference instant in RFC3339, defaults to now."`
	Count int    `help:"How many runs to print." default:"5"`
}

func (c *nextCmd) Run(a *app) error {
	cfg, err := loadSchedule(c.File)
	if err != nil {
		return err
	}
	from, err := parseInstant(c.From, a.now())
	if err != nil {
		return err
	}
	runs, err := recurrence.Upcoming(cfg, from, c.Count)
	if err != nil {
		return err
	}
	for _, t := range runs {
		fmt.Fprintln(a.out, t.Format(time.RFC3339))
	}
	return nil
}

type validateCmd struct {
	File string `help:"Schedule YAML file." required:"" type:"existingfile"`
}

func (c *validateCmd) Run(a *app) error {
	cfg, err := loadSchedule(c.File)
	if err != nil {
		return err
	}
	next, err := recurrence.Next(cfg, a.now())
	if err != nil {
		return err
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	fmt.Fprintf(a.out, "valid: %s at %s %s, next run %s\n", cfg.Frequency, cfg.Time, tz, next.Format(time.RFC3339))
	return nil
}

// requestFlags describe a report request on the command line.
type requestFlags struct {
	Type    string            `help:"Report type." required:""`
	Format  string            `help:"Output format." default:"csv"`
	User    string            `help:"Requesting user id." required:""`
	Agency  string            `help:"Agency id." required:""`
	Perm    []string          `help:"Granted permission, repeatable." name:"perm"`
	Param   map[string]string `help:"Request parameter as key=value." name:"param"`
	From    string            `help:"Data range start in RFC3339."`
	To      string            `help:"Data range end in RFC3339, defaults to now."`
	Title   string            `help:"Document title."`
	Charts  bool              `help:"Include charts."`
	Sheets  bool              `help:"Split sections into sheets." name:"sheets"`
	Gzip    bool              `help:"Compress the artifact." name:"gzip"`
	Timeout time.Duration     `help:"Per-request timeout."`
}

func (f requestFlags) request(now time.Time) (report.Request, error) {
	req := report.Request{
		Type:   report.Type(f.Type),
		Format: report.Format(f.Format),
		Options: report.Options{
			Title:          f.Title,
			IncludeCharts:  f.Charts,
			MultipleSheets: f.Sheets,
			Compress:       f.Gzip,
		},
		Context: report.ExecutionContext{
			AgencyID:    f.Agency,
			UserID:      f.User,
			Permissions: f.Perm,
			Timestamp:   now,
		},
		Timeout: f.Timeout,
	}
	if len(f.Param) > 0 {
		req.Parameters = make(map[string]any, len(f.Param))
		for k, v := range f.Param {
			req.Parameters[k] = v
		}
	}
	if f.From != "" {
		from, err := parseInstant(f.From, now)
		if err != nil {
			return report.Request{}, err
		}
		to, err := parseInstant(f.To, now)
		if err != nil {
			return report.Request{}, err
		}
		req.DateRange = &report.DateRange{From: from, To: to}
	}
	return req, nil
}

type runCmd struct {
	Request requestFlags `embed:""`

	Out string `help:"Output directory, overrides storage.path." type:"path"`
}

func (c *runCmd) Run(a *app) error {
	ctx := context.Background()
	req, err := c.Request.request(a.now())
	if err != nil {
		return err
	}
	orch, _, err := a.engine(ctx, c.Out, nil)
	if err != nil {
		return err
	}

	res, err := orch.Execute(ctx, req)
	if res.ID == "" {
		return err
	}
	if err != nil {
		a.logger.Error("report %s ended %s: %v", res.ID, res.Status, err)
	}

	res.Data = nil
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		return encErr
	}
	return err
}

type statusesCmd struct{}

func (statusesCmd) Run(a *app) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tNAME\tTERMINAL\tERROR\tRETRY\tNEXT")
	for _, s := range status.All() {
		meta, _ := status.Of(s)
		next := make([]string, len(meta.NextStates))
		for i, n := range meta.NextStates {
			next[i] = string(n)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\t%s\n",
			s, meta.DisplayName, meta.Terminal, meta.Error, meta.AllowRetry, strings.Join(next, ","))
	}
	return w.Flush()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
