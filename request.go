package report

import (
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
)

// Type identifies a report template family.
type Type string

const (
	TypeSales             Type = "sales"
	TypeInventory         Type = "inventory"
	TypeCredit            Type = "credit"
	TypeFinancial         Type = "financial"
	TypeCustomer          Type = "customer"
	TypeAgencyPerformance Type = "agency_performance"
	TypeAudit             Type = "audit"
)

// Format identifies an output encoding.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
	FormatXML   Format = "xml"
	FormatHTML  Format = "html"
	FormatJSON  Format = "json"
)

// Formats lists every format the engine knows about.
func Formats() []Format {
	return []Format{FormatPDF, FormatExcel, FormatCSV, FormatXML, FormatHTML, FormatJSON}
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return slices.Contains(Formats(), f)
}

// ExecutionContext carries caller identity and tenancy.
type ExecutionContext struct {
	AgencyID    string    `json:"agency_id" yaml:"agency_id"`
	UserID      string    `json:"user_id" yaml:"user_id"`
	Role        string    `json:"role,omitempty" yaml:"role,omitempty"`
	Permissions []string  `json:"permissions" yaml:"permissions"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// Validate requires agency, user and at least one permission.
func (c ExecutionContext) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.AgencyID, validation.Required),
		validation.Field(&c.UserID, validation.Required),
		validation.Field(&c.Permissions, validation.Required),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "incomplete execution context").
			WithTextCode(ErrCodeValidation)
	}
	return nil
}

// HasPermission reports whether p was granted.
func (c ExecutionContext) HasPermission(p string) bool {
	return slices.Contains(c.Permissions, p)
}

// Missing returns the required permissions not granted, preserving order.
func (c ExecutionContext) Missing(required []string) []string {
	var missing []string
	for _, p := range required {
		if !c.HasPermission(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Clone returns a copy that shares no slices with c.
func (c ExecutionContext) Clone() ExecutionContext {
	c.Permissions = slices.Clone(c.Permissions)
	return c
}

// DateRange is an inclusive window of business data.
type DateRange struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Span returns the length of the range.
func (r DateRange) Span() time.Duration {
	return r.To.Sub(r.From)
}

// Options are rendering options negotiated against format capabilities.
type Options struct {
	Title          string `json:"title,omitempty" yaml:"title,omitempty"`
	Locale         string `json:"locale,omitempty" yaml:"locale,omitempty"`
	IncludeCharts  bool   `json:"include_charts,omitempty" yaml:"include_charts,omitempty"`
	IncludeImages  bool   `json:"include_images,omitempty" yaml:"include_images,omitempty"`
	MultipleSheets bool   `json:"multiple_sheets,omitempty" yaml:"multiple_sheets,omitempty"`
	Compress       bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
	Encrypt        bool   `json:"encrypt,omitempty" yaml:"encrypt,omitempty"`
	Password       string `json:"-" yaml:"-"`
}

// Request asks the engine for one report run.
type Request struct {
	ID         string           `json:"id,omitempty" yaml:"id,omitempty"`
	Type       Type             `json:"type" yaml:"type"`
	Format     Format           `json:"format" yaml:"format"`
	Parameters map[string]any   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Filters    map[string]any   `json:"filters,omitempty" yaml:"filters,omitempty"`
	Options    Options          `json:"options" yaml:"options"`
	DateRange  *DateRange       `json:"date_range,omitempty" yaml:"date_range,omitempty"`
	Context    ExecutionContext `json:"context" yaml:"context"`
	Timeout    time.Duration    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate performs shape checks that need no catalog.
func (r Request) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required),
		validation.Field(&r.Format, validation.Required),
		validation.Field(&r.Options, validation.By(func(any) error {
			if r.Options.Encrypt && strings.TrimSpace(r.Options.Password) == "" {
				return validation.NewError("validation_password_required", "password is required when encrypt is set")
			}
			return nil
		})),
		validation.Field(&r.DateRange, validation.By(func(any) error {
			if r.DateRange != nil && r.DateRange.To.Before(r.DateRange.From) {
				return validation.NewError("validation_date_order", "to must not precede from")
			}
			return nil
		})),
		validation.Field(&r.Timeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid report request").
			WithTextCode(ErrCodeValidation)
	}
	return r.Context.Validate()
}

// Clone returns a deep-enough copy for templating: maps and slices are
// copied one level down.
func (r Request) Clone() Request {
	r.Parameters = cloneMap(r.Parameters)
	r.Filters = cloneMap(r.Filters)
	r.Context = r.Context.Clone()
	if r.DateRange != nil {
		dr := *r.DateRange
		r.DateRange = &dr
	}
	return r
}

// Section is one tabular block of report data.
type Section struct {
	Name    string         `json:"name" xml:"name,attr"`
	Columns []string       `json:"columns" xml:"columns>column"`
	Rows    [][]any        `json:"rows" xml:"-"`
	Totals  map[string]any `json:"totals,omitempty" xml:"-"`
}

// Data is what a data source produces and a renderer consumes.
type Data struct {
	Title       string         `json:"title"`
	Sections    []Section      `json:"sections"`
	RecordCount int            `json:"record_count"`
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     map[string]any `json:"summary,omitempty"`
}

// CountRecords sums the rows of every section.
func (d Data) CountRecords() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Rows)
	}
	return n
}

// Records returns RecordCount, falling back to counted rows when unset.
func (d Data) Records() int {
	if d.RecordCount > 0 {
		return d.RecordCount
	}
	return d.CountRecords()
}

// Clone copies sections and rows so the result can be handed out safely.
func (d Data) Clone() Data {
	if d.Sections != nil {
		sections := make([]Section, len(d.Sections))
		for i, s := range d.Sections {
			s.Columns = slices.Clone(s.Columns)
			if s.Rows != nil {
				rows := make([][]any, len(s.Rows))
				for j, row := range s.Rows {
					rows[j] = slices.Clone(row)
				}
				s.Rows = rows
			}
			s.Totals = cloneMap(s.Totals)
			sections[i] = s
		}
		d.Sections = sections
	}
	d.Summary = cloneMap(d.Summary)
	return d
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
