// Package export turns report data into bytes for a target format. It
// negotiates options against per-format capabilities before any rendering
// work starts.
package export

import (
	"fmt"

	report "github.com/goliatone/go-report"
)

// Capabilities is the feature set of one output format.
type Capabilities struct {
	SupportsCharts         bool `json:"supports_charts"`
	SupportsImages         bool `json:"supports_images"`
	SupportsMultipleSheets bool `json:"supports_multiple_sheets"`
	SupportsFormulas       bool `json:"supports_formulas"`
	SupportsCompression    bool `json:"supports_compression"`
	SupportsEncryption     bool `json:"supports_encryption"`
	// MaxRecords and MaxFileSizeMB of zero mean unlimited.
	MaxRecords    int `json:"max_records"`
	MaxFileSizeMB int `json:"max_file_size_mb"`
}

var defaultCapabilities = map[report.Format]Capabilities{
	report.FormatPDF: {
		SupportsCharts:      true,
		SupportsImages:      true,
		SupportsCompression: true,
		SupportsEncryption:  true,
		MaxRecords:          10_000,
		MaxFileSizeMB:       50,
	},
	report.FormatExcel: {
		SupportsCharts:         true,
		SupportsImages:         true,
		SupportsMultipleSheets: true,
		SupportsFormulas:       true,
		SupportsCompression:    true,
		SupportsEncryption:     true,
		MaxRecords:             1_048_575,
		MaxFileSizeMB:          100,
	},
	report.FormatCSV: {
		SupportsCompression: true,
		MaxRecords:          1_000_000,
		MaxFileSizeMB:       100,
	},
	report.FormatXML: {
		SupportsCompression: true,
		SupportsEncryption:  true,
		MaxRecords:          500_000,
		MaxFileSizeMB:       100,
	},
	report.FormatHTML: {
		SupportsCharts:      true,
		SupportsImages:      true,
		SupportsCompression: true,
		MaxRecords:          50_000,
		MaxFileSizeMB:       25,
	},
	report.FormatJSON: {
		SupportsCompression: true,
		SupportsEncryption:  true,
		MaxRecords:          1_000_000,
		MaxFileSizeMB:       100,
	},
}

// DefaultCapabilities returns the built-in capabilities of format.
func DefaultCapabilities(format report.Format) (Capabilities, bool) {
	caps, ok := defaultCapabilities[format]
	return caps, ok
}

// ValidateOptions rejects options the format cannot honour.
func ValidateOptions(format report.Format, caps Capabilities, opts report.Options) error {
	var unsupported []string
	if opts.IncludeCharts && !caps.SupportsCharts {
		unsupported = append(unsupported, "include_charts")
	}
	if opts.IncludeImages && !caps.SupportsImages {
		unsupported = append(unsupported, "include_images")
	}
	if opts.MultipleSheets && !caps.SupportsMultipleSheets {
		unsupported = append(unsupported, "multiple_sheets")
	}
	if opts.Compress && !caps.SupportsCompression {
		unsupported = append(unsupported, "compress")
	}
	if opts.Encrypt && !caps.SupportsEncryption {
		unsupported = append(unsupported, "encrypt")
	}
	if len(unsupported) == 0 {
		return nil
	}
	return report.NewError(report.ErrUnsupportedOption, fmt.Sprintf("%s does not support %v", format, unsupported), nil, map[string]any{
		"format":      string(format),
		"unsupported": unsupported,
	})
}

// CheckCapacity enforces the record and size ceilings. A size of zero skips
// the size check.
func CheckCapacity(format report.Format, caps Capabilities, records int, size int64) error {
	if caps.MaxRecords > 0 && records > caps.MaxRecords {
		return report.NewError(report.ErrCapacityExceeded,
			fmt.Sprintf("%d records exceed the %s limit of %d", records, format, caps.MaxRecords), nil,
			map[string]any{
				"format":      string(format),
				"records":     records,
				"max_records": caps.MaxRecords,
			})
	}
	limit := int64(caps.MaxFileSizeMB) << 20
	if size > 0 && limit > 0 && size > limit {
		return report.NewError(report.ErrCapacityExceeded,
			fmt.Sprintf("%d bytes exceed the %s limit of %d MB", size, format, caps.MaxFileSizeMB), nil,
			map[string]any{
				"format":           string(format),
				"size":             size,
				"max_file_size_mb": caps.MaxFileSizeMB,
			})
	}
	return nil
}

var contentTypes = map[report.Format]string{
	report.FormatPDF:   "application/pdf",
	report.FormatExcel: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	report.FormatCSV:   "text/csv; charset=utf-8",
	report.FormatXML:   "application/xml; charset=utf-8",
	report.FormatHTML:  "text/html; charset=utf-8",
	report.FormatJSON:  "application/json",
}

var extensions = map[report.Format]string{
	report.FormatPDF:   "pdf",
	report.FormatExcel: "xlsx",
	report.FormatCSV:   "csv",
	report.FormatXML:   "xml",
	report.FormatHTML:  "html",
	report.FormatJSON:  "json",
}

// ContentType returns the MIME type of format.
func ContentType(format report.Format) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Extension returns the file extension of format without a dot.
func Extension(format report.Format) string {
	if ext, ok := extensions[format]; ok {
		return ext
	}
	return "bin"
}

// ArtifactExtension adds the post-processing suffixes to Extension.
func ArtifactExtension(format report.Format, opts report.Options) string {
	ext := Extension(format)
	if opts.Compress {
		ext += ".gz"
	}
	if opts.Encrypt {
		ext += ".enc"
	}
	return ext
}

// ArtifactContentType is the MIME type after post-processing.
func ArtifactContentType(format report.Format, opts report.Options) string {
	switch {
	case opts.Encrypt:
		return "application/octet-stream"
	case opts.Compress:
		return "application/gzip"
	default:
		return ContentType(format)
	}
}
