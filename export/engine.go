package export

import (
	"context"
	"fmt"
	"sync"

	report "github.com/goliatone/go-report"
)

// Exporter produces the bytes of a report in a target format.
type Exporter interface {
	Capabilities(format report.Format) (Capabilities, bool)
	Export(ctx context.Context, data report.Data, format report.Format, opts report.Options) ([]byte, error)
}

// Renderer encodes data into one format.
type Renderer interface {
	Render(ctx context.Context, data report.Data, opts report.Options) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, data report.Data, opts report.Options) ([]byte, error)

func (f RendererFunc) Render(ctx context.Context, data report.Data, opts report.Options) ([]byte, error) {
	return f(ctx, data, opts)
}

type registration struct {
	renderer Renderer
	caps     Capabilities
}

// Engine dispatches to registered renderers and applies compression, then
// encryption.
type Engine struct {
	mu      sync.RWMutex
	formats map[report.Format]registration
	logger  report.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger report.Logger) Option {
	return func(e *Engine) {
		e.logger = report.NormalizeLogger(logger)
	}
}

// WithRenderer registers or replaces the renderer of format.
func WithRenderer(format report.Format, r Renderer, caps Capabilities) Option {
	return func(e *Engine) {
		e.formats[format] = registration{renderer: r, caps: caps}
	}
}

// NewEngine returns an engine with the built-in renderers registered.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		formats: make(map[report.Format]registration),
		logger:  report.NormalizeLogger(nil),
	}
	builtin := map[report.Format]Renderer{
		report.FormatPDF:   PDFRenderer{},
		report.FormatExcel: ExcelRenderer{},
		report.FormatCSV:   CSVRenderer{},
		report.FormatXML:   XMLRenderer{},
		report.FormatHTML:  HTMLRenderer{},
		report.FormatJSON:  JSONRenderer{},
	}
	for format, r := range builtin {
		caps, _ := DefaultCapabilities(format)
		e.formats[format] = registration{renderer: r, caps: caps}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Register adds or replaces a renderer.
func (e *Engine) Register(format report.Format, r Renderer, caps Capabilities) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.formats[format] = registration{renderer: r, caps: caps}
}

func (e *Engine) Capabilities(format report.Format) (Capabilities, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.formats[format]
	return reg.caps, ok
}

// Export validates options and record count, renders, post-processes and
// finally checks the file size ceiling.
func (e *Engine) Export(ctx context.Context, data report.Data, format report.Format, opts report.Options) ([]byte, error) {
	e.mu.RLock()
	reg, ok := e.formats[format]
	e.mu.RUnlock()
	if !ok {
		return nil, report.NewError(report.ErrUnknownFormat, fmt.Sprintf("no renderer for %q", format), nil, map[string]any{
			"format": string(format),
		})
	}
	if err := ValidateOptions(format, reg.caps, opts); err != nil {
		return nil, err
	}
	if err := CheckCapacity(format, reg.caps, data.Records(), 0); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := reg.renderer.Render(ctx, data, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, report.NewError(report.ErrExportFailed, fmt.Sprintf("render %s", format), err, map[string]any{
			"format": string(format),
		})
	}

	if opts.Compress {
		if out, err = Compress(out); err != nil {
			return nil, report.NewError(report.ErrExportFailed, "compress output", err, nil)
		}
	}
	if opts.Encrypt {
		if out, err = Encrypt(out, opts.Password); err != nil {
			return nil, report.NewError(report.ErrExportFailed, "encrypt output", err, nil)
		}
	}

	if err := CheckCapacity(format, reg.caps, 0, int64(len(out))); err != nil {
		return nil, err
	}

	e.logger.Debug("exported %s report: %d bytes", format, len(out))
	return out, nil
}
