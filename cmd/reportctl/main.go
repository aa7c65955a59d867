// Command reportctl previews schedules, runs reports and serves the
// scheduled-report poller.
package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-report/config"
)

type cli struct {
	Config   string `help:"YAML configuration file." type:"path" env:"REPORT_CONFIG"`
	LogLevel string `help:"Override the configured log level."`
	LogJSON  bool   `help:"Emit JSON log lines." name:"log-json"`

	Next     nextCmd     `cmd:"" help:"Print upcoming runs of a schedule."`
	Validate validateCmd `cmd:"" help:"Validate a schedule file."`
	Run      runCmd      `cmd:"" help:"Run one report and store the artifact."`
	Statuses statusesCmd `cmd:"" help:"Print the report status table."`
	Schedule scheduleCmd `cmd:"" help:"Manage scheduled reports."`
	Serve    serveCmd    `cmd:"" help:"Poll and run due scheduled reports."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("reportctl"),
		kong.Description("Report execution engine."),
		kong.UsageOnError(),
	)

	a, err := newApp(c)
	ctx.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(a))
}

func newApp(c cli) (*app, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	return &app{
		cfg:    cfg,
		logger: newLogger(os.Stderr, cfg.LogLevel, c.LogJSON),
		out:    os.Stdout,
	}, nil
}
