package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"conti/internal/log"
	"conti/internal/report"
	ports "conti/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and credentials. CredentialsJSON wins over
// CredentialsFile; with neither, GOOGLE_APPLICATION_CREDENTIALS is read.
type Config struct {
	SpreadsheetID   string
	SheetName       string // base name, the year is prefixed
	CredentialsJSON string
	CredentialsFile string
}

// Exporter writes EOY reports to one sheet per user and year.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

var _ ports.ReportExporter = (*Exporter)(nil)

// New creates an Exporter authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Exporter, error) {
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg, logger)
}

// NewWithService wraps an existing service, e.g. one pointed at a test endpoint.
func NewWithService(svc *gsheet.Service, cfg Config, logger *log.Logger) (*Exporter, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Report"
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: id,
		sheetBase:     base,
		logger:        logger.WithComponent(log.ComponentSheets),
	}, nil
}

func credentials(cfg Config) ([]byte, error) {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	file := strings.TrimSpace(cfg.CredentialsFile)
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if file == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// ExportReport replaces the content of the user's report sheet for r.Year,
// creating the sheet when missing.
func (e *Exporter) ExportReport(ctx context.Context, userID string, r report.EOYReport) (string, error) {
	name := e.sheetName(userID, r.Year)
	if err := e.ensureSheet(ctx, name); err != nil {
		return "", err
	}

	rng := quote(name)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", name, err)
	}

	rows := ports.ReportRows(r)
	target := fmt.Sprintf("%s!A1:D%d", rng, len(rows))
	resp, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, target, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}

	e.logger.InfoContext(ctx, "Report exported",
		log.FieldUserID, userID,
		log.FieldYear, r.Year,
		log.FieldOperation, log.OpExport,
		"range", resp.UpdatedRange)
	return resp.UpdatedRange, nil
}

func (e *Exporter) ensureSheet(ctx context.Context, name string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	if slices.ContainsFunc(ss.Sheets, func(s *gsheet.Sheet) bool {
		return s.Properties != nil && s.Properties.Title == name
	}) {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
	}}}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", name, err)
	}
	e.logger.InfoContext(ctx, "Report sheet created", "sheet", name)
	return nil
}

func (e *Exporter) sheetName(userID string, year int) string {
	return fmt.Sprintf("%s (%s)", yearPrefixedName(e.sheetBase, year), userID)
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// quote wraps a sheet name for A1 notation.
func quote(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
