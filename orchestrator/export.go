package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/export"
	"github.com/goliatone/go-report/lifecycle"
)

// Export re-renders a completed report in format and stores the artifact.
// A failed export leaves the report in export_failed and can be retried.
func (o *Orchestrator) Export(ctx context.Context, rep *lifecycle.Report, format report.Format, opts report.Options) (lifecycle.Result, error) {
	if rep == nil {
		return lifecycle.Result{}, report.NewError(report.ErrNotFound, "no report to export", nil, nil)
	}
	ctx, span := o.tracer.Start(ctx, "report.export", trace.WithAttributes(
		attribute.String("report.id", rep.ID()),
		attribute.String("report.format", string(format)),
	))
	defer span.End()

	err := o.export(ctx, rep, format, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rep.ToResult(), err
}

func (o *Orchestrator) export(ctx context.Context, rep *lifecycle.Report, format report.Format, opts report.Options) error {
	caps, ok := o.exporter.Capabilities(format)
	if !ok {
		return report.NewError(report.ErrUnknownFormat, fmt.Sprintf("no renderer for %s", format), nil, map[string]any{
			"format": string(format),
		})
	}
	if err := export.ValidateOptions(format, caps, opts); err != nil {
		return err
	}
	if err := rep.StartExport(format, caps); err != nil {
		return err
	}

	data, ok := rep.Data()
	if !ok {
		err := report.NewError(report.ErrExportFailed, "report has no data to export", nil, map[string]any{
			"report_id": rep.ID(),
		})
		_ = rep.FailExport(err)
		return err
	}

	body, err := o.exporter.Export(ctx, data, format, opts)
	if err == nil {
		var file lifecycle.File
		file, err = o.upload(ctx, rep, format, body, data)
		if err == nil {
			if err = rep.CompleteExport(file); err != nil {
				o.discard(ctx, file, o.logger)
			}
			return err
		}
	}

	if ferr := rep.FailExport(err); ferr != nil {
		o.logger.Warn("export of %s: %v", rep.ID(), ferr)
	}
	o.logger.Error("export of %s as %s failed: %v", rep.ID(), format, err)
	return err
}
