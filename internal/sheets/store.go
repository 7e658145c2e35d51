// Package sheets talks to the external spreadsheet store. The service
// depends only on the Store interface; the Google-backed Client is the
// production implementation.
package sheets

import (
	"context"
	"fmt"
)

// Store is the minimal spreadsheet contract: a connectivity probe plus
// range read/write/append. Row ordering and append atomicity are owned
// by the external service.
type Store interface {
	// Metadata returns the spreadsheet title, used as a reachability probe.
	Metadata(ctx context.Context, spreadsheetID string) (string, error)
	// ReadRange returns the rows in the range, possibly empty.
	ReadRange(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error)
	// WriteRange overwrites the range with the given rows.
	WriteRange(ctx context.Context, spreadsheetID, rangeSpec string, rows [][]string) error
	// AppendRows appends rows after the last non-empty row of the range.
	AppendRows(ctx context.Context, spreadsheetID, rangeSpec string, rows [][]string) error
}

// APIError carries the store's error verbatim. The service never
// classifies or retries these; the message and code are surfaced as-is.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sheets api: %s (HTTP %d)", e.Message, e.Code)
}
