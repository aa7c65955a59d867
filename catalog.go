package report

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

const day = 24 * time.Hour

// TypeDefinition describes what a report type needs and allows.
type TypeDefinition struct {
	Type                Type
	Name                string
	Description         string
	TemplateRef         string
	RequiredPermissions []string
	RequiredParameters  []string
	Formats             []Format
	// MaxDateRange of zero means the type accepts any span.
	MaxDateRange time.Duration
}

// SupportsFormat reports whether f is allowed for this type.
func (d TypeDefinition) SupportsFormat(f Format) bool {
	if len(d.Formats) == 0 {
		return f.Valid()
	}
	return slices.Contains(d.Formats, f)
}

// Catalog is a concurrency safe set of report type definitions.
type Catalog struct {
	mu    sync.RWMutex
	types map[Type]TypeDefinition
}

// NewCatalog builds a catalog from defs.
func NewCatalog(defs ...TypeDefinition) *Catalog {
	c := &Catalog{types: make(map[Type]TypeDefinition, len(defs))}
	for _, def := range defs {
		c.types[def.Type] = def
	}
	return c
}

// DefaultCatalog returns the built-in report types.
func DefaultCatalog() *Catalog {
	all := Formats()
	tabular := []Format{FormatExcel, FormatCSV, FormatXML, FormatJSON}
	return NewCatalog(
		TypeDefinition{
			Type:                TypeSales,
			Name:                "Sales Report",
			Description:         "Sales by period, product and customer",
			TemplateRef:         "sales/summary",
			RequiredPermissions: []string{"reports.view", "reports.sales.view"},
			Formats:             all,
			MaxDateRange:        366 * day,
		},
		TypeDefinition{
			Type:                TypeInventory,
			Name:                "Inventory Report",
			Description:         "Stock levels, movements and valuation",
			TemplateRef:         "inventory/levels",
			RequiredPermissions: []string{"reports.view", "reports.inventory.view"},
			Formats:             all,
			MaxDateRange:        366 * day,
		},
		TypeDefinition{
			Type:                TypeCredit,
			Name:                "Credit Report",
			Description:         "Outstanding balances and credit utilisation",
			TemplateRef:         "credit/exposure",
			RequiredPermissions: []string{"reports.view", "reports.credit.view"},
			Formats:             all,
			MaxDateRange:        180 * day,
		},
		TypeDefinition{
			Type:                TypeFinancial,
			Name:                "Financial Summary",
			Description:         "Revenue, costs and margins",
			TemplateRef:         "financial/summary",
			RequiredPermissions: []string{"reports.view", "reports.financial.view"},
			Formats:             []Format{FormatPDF, FormatExcel, FormatHTML, FormatJSON},
			MaxDateRange:        2 * 366 * day,
		},
		TypeDefinition{
			Type:                TypeCustomer,
			Name:                "Customer Report",
			Description:         "Customer activity and segmentation",
			TemplateRef:         "customer/activity",
			RequiredPermissions: []string{"reports.view", "reports.customer.view"},
			Formats:             all,
			MaxDateRange:        366 * day,
		},
		TypeDefinition{
			Type:                TypeAgencyPerformance,
			Name:                "Agency Performance",
			Description:         "Agency KPIs compared over time",
			TemplateRef:         "agency/performance",
			RequiredPermissions: []string{"reports.view", "reports.agency.view"},
			Formats:             []Format{FormatPDF, FormatExcel, FormatHTML},
			MaxDateRange:        366 * day,
		},
		TypeDefinition{
			Type:                TypeAudit,
			Name:                "Audit Trail",
			Description:         "User and system activity log",
			TemplateRef:         "audit/trail",
			RequiredPermissions: []string{"reports.view", "reports.audit.view", "reports.admin"},
			RequiredParameters:  []string{"scope"},
			Formats:             tabular,
			MaxDateRange:        90 * day,
		},
	)
}

// Register adds or replaces a definition.
func (c *Catalog) Register(def TypeDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.types == nil {
		c.types = make(map[Type]TypeDefinition)
	}
	c.types[def.Type] = def
}

// Lookup returns the definition of t.
func (c *Catalog) Lookup(t Type) (TypeDefinition, bool) {
	if c == nil {
		return TypeDefinition{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.types[t]
	return def, ok
}

// Types returns the registered types in name order.
func (c *Catalog) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Type, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate runs structural validation of req against the catalog: request
// shape, known type and format, format compatibility, required parameters
// and the date span ceiling.
func (c *Catalog) Validate(req Request) (TypeDefinition, error) {
	if err := req.Validate(); err != nil {
		return TypeDefinition{}, err
	}

	def, ok := c.Lookup(req.Type)
	if !ok {
		return TypeDefinition{}, NewError(ErrUnknownType, fmt.Sprintf("unknown report type %q", req.Type), nil, map[string]any{
			"type": string(req.Type),
		})
	}

	if !req.Format.Valid() {
		return def, NewError(ErrUnknownFormat, fmt.Sprintf("unknown output format %q", req.Format), nil, map[string]any{
			"format": string(req.Format),
		})
	}

	if !def.SupportsFormat(req.Format) {
		return def, NewError(ErrUnknownFormat, fmt.Sprintf("report type %s cannot be produced as %s", req.Type, req.Format), nil, map[string]any{
			"type":    string(req.Type),
			"format":  string(req.Format),
			"allowed": formatsToStrings(def.Formats),
		})
	}

	var missing []string
	for _, p := range def.RequiredParameters {
		if v, ok := req.Parameters[p]; !ok || v == nil || v == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return def, NewError(ErrValidation, "missing required parameters", nil, map[string]any{
			"missing_parameters": missing,
		})
	}

	if req.DateRange != nil && def.MaxDateRange > 0 && req.DateRange.Span() > def.MaxDateRange {
		return def, NewError(ErrInvalidDateRange, fmt.Sprintf("date range exceeds %d days for %s", int(def.MaxDateRange/day), req.Type), nil, map[string]any{
			"max_days":       int(def.MaxDateRange / day),
			"requested_days": int(req.DateRange.Span() / day),
		})
	}

	return def, nil
}

// Authorize computes required minus granted and fails with the missing and
// granted sets when anything is missing.
func (c *Catalog) Authorize(def TypeDefinition, ctx ExecutionContext) error {
	missing := ctx.Missing(def.RequiredPermissions)
	if len(missing) == 0 {
		return nil
	}
	return NewError(ErrAccessDenied, fmt.Sprintf("missing permissions for %s report", def.Type), nil, map[string]any{
		"missing": missing,
		"granted": slices.Clone(ctx.Permissions),
		"user_id": ctx.UserID,
	})
}

func formatsToStrings(in []Format) []string {
	out := make([]string, len(in))
	for i, f := range in {
		out[i] = string(f)
	}
	return out
}
