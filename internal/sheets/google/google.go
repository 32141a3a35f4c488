package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"pnvr/internal/budget"
	"pnvr/internal/core"
	"pnvr/internal/ports"
)

var _ ports.ReportExporter = (*Exporter)(nil)

// sheetsAPI is the slice of the Sheets API the exporter uses.
type sheetsAPI interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string) error
	Clear(ctx context.Context, rng string) error
	Update(ctx context.Context, rng string, values [][]any) error
}

// Exporter writes convenio reports into one tab per convenio.
type Exporter struct {
	api sheetsAPI
}

// Credentials selects the service account used to talk to Sheets. JSON wins
// over File when both are set.
type Credentials struct {
	JSON string
	File string
}

// NewExporter creates an exporter for spreadsheetID.
func NewExporter(ctx context.Context, spreadsheetID string, creds Credentials) (*Exporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Exporter{api: &serviceAPI{svc: svc, spreadsheetID: spreadsheetID}}, nil
}

func newSheetsService(ctx context.Context, creds Credentials) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(creds.JSON) != "":
		credentialsJSON = []byte(creds.JSON)
	case creds.File != "":
		b, err := os.ReadFile(creds.File)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return svc, nil
}

// ExportReport replaces the content of the convenio's tab with the report.
// The tab is created on first export.
func (e *Exporter) ExportReport(ctx context.Context, convenio core.Convenio, report budget.Report) error {
	title := SheetTitle(convenio)

	titles, err := e.api.SheetTitles(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	if !slices.Contains(titles, title) {
		if err := e.api.AddSheet(ctx, title); err != nil {
			return fmt.Errorf("add sheet %q: %w", title, err)
		}
	}

	rng := quoteSheet(title)
	if err := e.api.Clear(ctx, rng); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	values := ReportValues(convenio, report)
	if err := e.api.Update(ctx, rng+"!A1", values); err != nil {
		return fmt.Errorf("write %s: %w", rng, err)
	}

	slog.InfoContext(ctx, "Report exported to Google Sheets",
		"convenio_id", convenio.ID,
		"sheet", title,
		"rows", len(values))
	return nil
}

// serviceAPI adapts gsheet.Service to sheetsAPI.
type serviceAPI struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (a *serviceAPI) SheetTitles(ctx context.Context) ([]string, error) {
	ss, err := a.svc.Spreadsheets.Get(a.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (a *serviceAPI) AddSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	_, err := a.svc.Spreadsheets.BatchUpdate(a.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (a *serviceAPI) Clear(ctx context.Context, rng string) error {
	_, err := a.svc.Spreadsheets.Values.Clear(a.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (a *serviceAPI) Update(ctx context.Context, rng string, values [][]any) error {
	_, err := a.svc.Spreadsheets.Values.Update(a.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}
