// Package storage persists rendered report artifacts.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	report "github.com/goliatone/go-report"
)

// Metadata describes an artifact to store.
type Metadata struct {
	ReportID    string
	AgencyID    string
	UserID      string
	Type        report.Type
	Format      report.Format
	ContentType string
	// Extension includes the leading dot, e.g. ".csv.gz".
	Extension   string
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// Stored is the receipt of a successful Store call.
type Stored struct {
	FileID    string    `json:"file_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Store writes artifacts somewhere a user can download them from.
type Store interface {
	Store(ctx context.Context, data []byte, meta Metadata) (Stored, error)
	// Delete removes an artifact by file id. Deleting a missing artifact is
	// not an error.
	Delete(ctx context.Context, fileID string) error
}

// Key returns agency/yyyy/mm/dd/<report-id><ext>.
func Key(meta Metadata) string {
	agency := sanitize(meta.AgencyID)
	if agency == "" {
		agency = "_"
	}
	at := meta.GeneratedAt.UTC()
	if meta.GeneratedAt.IsZero() {
		at = time.Now().UTC()
	}
	return path.Join(
		agency,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		sanitize(meta.ReportID)+meta.Extension,
	)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.':
			return '_'
		}
		return r
	}, s)
}

func storageError(msg string, source error, meta Metadata) error {
	return report.NewError(report.ErrStorageFailed, msg, source, map[string]any{
		"report_id": meta.ReportID,
		"format":    string(meta.Format),
	})
}
