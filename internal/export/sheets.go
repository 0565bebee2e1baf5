// Package export writes account statements to a Google spreadsheet so a
// user can take their synced history out of the app.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"balanz/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// SheetsExporter appends statement rows to one sheet of a configured
// spreadsheet.
type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsExporter creates an exporter backed by a service account.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func NewSheetsExporter(ctx context.Context, spreadsheetID, sheetName string) (*SheetsExporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("export: missing spreadsheet id")
	}
	if sheetName == "" {
		sheetName = "Statements"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &SheetsExporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ExportStatement appends one row per transaction to the statement sheet,
// oldest first, and returns the number of exported rows. The amount column
// is a decimal string in major units because spreadsheets are for humans;
// the minor-unit source of truth stays in storage.
func (e *SheetsExporter) ExportStatement(ctx context.Context, txs []core.Transaction, from, to time.Time) (int, error) {
	if e.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if len(txs) == 0 {
		return 0, nil
	}

	values := statementRows(txs)

	rng := fmt.Sprintf("%s!A:F", e.sheetName)
	vr := &gsheet.ValueRange{Values: values}
	resp, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("append statement rows to %s: %w", e.sheetName, err)
	}

	rows := len(values)
	if resp.Updates != nil {
		rows = int(resp.Updates.UpdatedRows)
	}
	slog.InfoContext(ctx, "Statement exported to Google Sheets",
		"sheet", e.sheetName,
		"rows", rows,
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"))
	return rows, nil
}

func statementRows(txs []core.Transaction) [][]any {
	values := make([][]any, 0, len(txs))
	for _, t := range txs {
		values = append(values, []any{
			t.PostedAt.Format("2006-01-02"),
			t.AccountID,
			t.Description,
			statementAmount(t.AmountMinor),
			t.Currency,
			t.CategoryID,
		})
	}
	return values
}

// statementAmount renders a minor-unit amount as a plain decimal string.
// The sign is tracked separately: integer division would swallow it for
// amounts between -99 and -1 minor units.
func statementAmount(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	out := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if neg {
		return "-" + out
	}
	return out
}
