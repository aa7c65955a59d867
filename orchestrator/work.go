package orchestrator

import (
	"context"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/export"
	"github.com/goliatone/go-report/lifecycle"
	"github.com/goliatone/go-report/runner"
	"github.com/goliatone/go-report/source"
	"github.com/goliatone/go-report/status"
	"github.com/goliatone/go-report/storage"
)

type workResult struct {
	data report.Data
	file lifecycle.File
}

// work is the body raced against the deadline. It only reports progress on
// the entity; the caller owns terminal transitions.
func (o *Orchestrator) work(ctx context.Context, rep *lifecycle.Report, req report.Request) (workResult, error) {
	req.ID = rep.ID()

	if err := o.step(ctx, rep, "", 5, "validating", "validating request"); err != nil {
		return workResult{}, err
	}

	if err := o.step(ctx, rep, status.Processing, 10, "fetching", "fetching data"); err != nil {
		return workResult{}, err
	}
	data, err := o.source.Generate(ctx, rep.TemplateRef(), req)
	if err != nil {
		return workResult{}, err
	}
	if data.RecordCount == 0 {
		data.RecordCount = data.CountRecords()
	}
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = o.clock()
	}
	if err := o.step(ctx, rep, "", 50, "data_ready", "data ready"); err != nil {
		return workResult{}, err
	}

	if err := o.step(ctx, rep, status.Rendering, 60, "rendering", "rendering "+string(rep.Format())); err != nil {
		return workResult{}, err
	}
	body, err := o.exporter.Export(ctx, data, rep.Format(), rep.Options())
	if err != nil {
		return workResult{}, err
	}

	if err := o.step(ctx, rep, "", 85, "storing", "storing artifact"); err != nil {
		return workResult{}, err
	}
	file, err := o.upload(ctx, rep, rep.Format(), body, data)
	if err != nil {
		return workResult{}, err
	}

	return workResult{data: data, file: file}, source.Checkpoint(ctx)
}

// step is a cooperative checkpoint followed by an optional stage move and a
// progress update.
func (o *Orchestrator) step(ctx context.Context, rep *lifecycle.Report, to status.Status, pct float64, stage, msg string) error {
	if err := source.Checkpoint(ctx); err != nil {
		return err
	}
	if to != "" {
		if err := rep.Advance(to); err != nil {
			return err
		}
	}
	return rep.UpdateProgress(pct, stage, msg)
}

func (o *Orchestrator) upload(ctx context.Context, rep *lifecycle.Report, format report.Format, body []byte, data report.Data) (lifecycle.File, error) {
	opts := rep.Options()
	meta := storage.Metadata{
		ReportID:    rep.ID(),
		AgencyID:    rep.Context().AgencyID,
		UserID:      rep.Context().UserID,
		Type:        rep.Type(),
		Format:      format,
		ContentType: export.ArtifactContentType(format, opts),
		Extension:   "." + export.ArtifactExtension(format, opts),
		GeneratedAt: data.GeneratedAt,
		ExpiresAt:   data.GeneratedAt.Add(o.retention),
	}

	var stored storage.Stored
	h := runner.NewHandler(
		runner.WithMaxRetries(o.uploadRetries),
		runner.WithRetryStrategy(o.uploadStrategy),
		runner.WithLogger(o.logger),
	)
	err := h.Run(ctx, func(ctx context.Context) error {
		s, err := o.store.Store(ctx, body, meta)
		if err != nil {
			return err
		}
		stored = s
		return nil
	})
	if err != nil {
		return lifecycle.File{}, err
	}
	return lifecycle.File{ID: stored.FileID, URL: stored.URL, Size: stored.Size, ExpiresAt: stored.ExpiresAt}, nil
}
