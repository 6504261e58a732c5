package booking

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// AuditLog appends booking lifecycle events to a Google Sheet. It is
// best-effort bookkeeping for the advisor; failures must never block or
// roll back the booking path, so callers log and move on.
type AuditLog struct {
	svc     *gsheets.Service
	sheetID string
}

func NewAuditLog(ctx context.Context, credentialsFile, sheetID string) (*AuditLog, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("google sheet id is required")
	}
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("init google sheets: %w", err)
	}
	return &AuditLog{svc: svc, sheetID: sheetID}, nil
}

// Append records one lifecycle event for the booking.
func (l *AuditLog) Append(ctx context.Context, event string, r Record) error {
	row := []any{
		time.Now().UTC().Format(time.RFC3339),
		event,
		r.Code,
		r.Topic,
		r.Slot.Start.Format(time.RFC3339),
		r.Slot.End.Format(time.RFC3339),
		string(r.Status),
	}
	vr := &gsheets.ValueRange{Values: [][]any{row}}
	_, err := l.svc.Spreadsheets.Values.
		Append(l.sheetID, "Bookings!A:G", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}
