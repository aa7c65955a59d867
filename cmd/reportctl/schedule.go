package main

import (
	"context"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-report/cron"
	"github.com/goliatone/go-report/dispatcher"
	"github.com/goliatone/go-report/orchestrator"
	"github.com/goliatone/go-report/repository"
	"github.com/goliatone/go-report/schedule"
)

type scheduleCmd struct {
	Add    scheduleAddCmd    `cmd:"" help:"Store a new scheduled report."`
	List   scheduleListCmd   `cmd:"" help:"List scheduled reports."`
	Pause  schedulePauseCmd  `cmd:"" help:"Pause a scheduled report."`
	Resume scheduleResumeCmd `cmd:"" help:"Resume a paused scheduled report."`
	Delete scheduleDeleteCmd `cmd:"" help:"Delete a scheduled report."`
}

func (a *app) repository(ctx context.Context) (*repository.SQLite, error) {
	return repository.OpenSQLite(ctx, a.cfg.DBPath)
}

type scheduleAddCmd struct {
	Name        string   `help:"Display name." required:""`
	Description string   `help:"Free text description."`
	File        string   `help:"Schedule YAML file." required:"" type:"existingfile"`
	Recipient   []string `help:"Delivery recipient, repeatable."`
	Tag         []string `help:"Tag, repeatable."`
	MaxHistory  int      `help:"Run history entries to keep, zero keeps all." default:"50"`

	Request requestFlags `embed:"" prefix:"report-"`
}

func (c *scheduleAddCmd) Run(a *app) error {
	ctx := context.Background()
	cfg, err := loadSchedule(c.File)
	if err != nil {
		return err
	}
	now := a.now()
	req, err := c.Request.request(now)
	if err != nil {
		return err
	}

	sr, err := schedule.NewScheduledReport(schedule.Params{
		Name:             c.Name,
		Description:      c.Description,
		CreatedBy:        c.Request.User,
		Recipients:       c.Recipient,
		Tags:             c.Tag,
		Request:          req,
		Config:           cfg,
		FailureThreshold: a.cfg.FailureThreshold,
		MaxHistory:       c.MaxHistory,
	}, now)
	if err != nil {
		return err
	}

	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Save(ctx, sr); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s next run %s\n", sr.ID, sr.Schedule.NextExecution.Format(time.RFC3339))
	return nil
}

type scheduleListCmd struct{}

func (scheduleListCmd) Run(a *app) error {
	ctx := context.Background()
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	all, err := repo.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tNEXT\tRUNS\tSUCCESS")
	for _, sr := range all {
		stats := sr.ExecutionStats()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.0f%%\n",
			sr.ID, sr.Name, sr.Schedule.Status,
			sr.Schedule.NextExecution.Format(time.RFC3339), stats.Total, stats.SuccessRate)
	}
	return w.Flush()
}

type schedulePauseCmd struct {
	ID string `arg:"" help:"Scheduled report id."`
}

func (c *schedulePauseCmd) Run(a *app) error {
	return a.updateSchedule(c.ID, schedule.ScheduledReport.Pause)
}

type scheduleResumeCmd struct {
	ID string `arg:"" help:"Scheduled report id."`
}

func (c *scheduleResumeCmd) Run(a *app) error {
	return a.updateSchedule(c.ID, schedule.ScheduledReport.Resume)
}

func (a *app) updateSchedule(id string, apply func(schedule.ScheduledReport, time.Time) (schedule.ScheduledReport, error)) error {
	ctx := context.Background()
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	sr, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sr, err = apply(sr, a.now()); err != nil {
		return err
	}
	if err := repo.Save(ctx, sr); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", sr.ID, sr.Schedule.Status)
	return nil
}

type scheduleDeleteCmd struct {
	ID string `arg:"" help:"Scheduled report id."`
}

func (c *scheduleDeleteCmd) Run(a *app) error {
	ctx := context.Background()
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()
	return repo.Delete(ctx, c.ID)
}

type serveCmd struct {
	MetricsAddr string `help:"Serve Prometheus metrics on this address." name:"metrics-addr"`
}

func (c *serveCmd) Run(a *app) error {
	ctx, stop := signalContext()
	defer stop()

	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	events := dispatcher.NewDispatcher(dispatcher.WithLogger(a.logger))
	dispatcher.Subscribe(events, func(_ context.Context, evt dispatcher.ReportFinished) error {
		a.logger.Info("report %s %s (%d records)", evt.Result.ID, evt.Result.Status, evt.Result.Metadata.RecordCount)
		return nil
	})
	dispatcher.Subscribe(events, func(_ context.Context, evt dispatcher.ScheduleExecuted) error {
		if evt.Err != nil {
			a.logger.Warn("schedule %s run %s %s: %v", evt.ScheduleID, evt.ExecutionID, evt.Outcome, evt.Err)
			return nil
		}
		a.logger.Info("schedule %s run %s %s", evt.ScheduleID, evt.ExecutionID, evt.Outcome)
		return nil
	})

	orch, m, err := a.engine(ctx, "", nil, orchestrator.WithDispatcher(events))
	if err != nil {
		return err
	}

	scheduler := cron.NewScheduler(cron.WithLogger(a.logger), cron.WithLocation(time.UTC))
	pollerOpts := []cron.PollerOption{
		cron.WithPollerLogger(a.logger),
		cron.WithPollerMetrics(m),
		cron.WithPollerClock(a.now),
		cron.WithPollerDispatcher(events),
		cron.WithPollerStaleAfter(2 * a.cfg.Timeout),
	}
	if a.cfg.SchedulePassword != "" {
		pollerOpts = append(pollerOpts, cron.WithPasswordResolver(cron.StaticPassword(a.cfg.SchedulePassword)))
	}
	poller := cron.NewPoller(repo, orch, pollerOpts...)
	if _, err := poller.Register(scheduler, a.cfg.PollSpec); err != nil {
		return err
	}

	var srv *http.Server
	if c.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              c.MetricsAddr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics server: %v", err)
			}
		}()
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("polling scheduled reports on %q", a.cfg.PollSpec)
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdown)
	}
	return scheduler.Stop(shutdown)
}
