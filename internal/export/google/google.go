package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"fleetledger/internal/export"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client appends settlement rows to a Google Sheets tab. Column A holds the
// trip id and is used to skip trips that were already exported.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// Trip ids already present in column A, mapped to their row number.
	mu                 sync.Mutex
	cachedRows         map[string]int
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var _ export.SettlementWriter = (*Client)(nil)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New creates a Sheets exporter authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, cfg.SheetName), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = "Settlements"
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetName:          sheetName,
		cacheValidDuration: 5 * time.Minute,
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Inline JSON wins over a file; GOOGLE_APPLICATION_CREDENTIALS is the last resort.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(cfg.CredentialsJSON)
	serviceAccountFile := strings.TrimSpace(cfg.CredentialsFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
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

// AppendSettlement writes the row after the last used row. The header is
// written first when the sheet is empty.
func (c *Client) AppendSettlement(ctx context.Context, row export.SettlementRow) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if row.TripID == "" {
		return "", errors.New("settlement row without trip id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadRowsLocked(ctx); err != nil {
		return "", err
	}
	if n, ok := c.cachedRows[row.TripID]; ok {
		slog.InfoContext(ctx, "Settlement already exported", "trip_id", row.TripID, "row", n)
		return c.rowRef(n), nil
	}

	nextRow := c.cachedRowCount + 1
	values := [][]any{row.Values()}
	if c.cachedRowCount == 0 {
		header := make([]any, len(export.Header))
		for i, h := range export.Header {
			header[i] = h
		}
		values = [][]any{header, row.Values()}
	}

	rng := fmt.Sprintf("%s!A%d", c.sheetName, nextRow)
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.invalidateRowCacheLocked()
		return "", fmt.Errorf("failed to write settlement to sheet %s: %w", c.sheetName, err)
	}

	written := nextRow + len(values) - 1
	c.cachedRows[row.TripID] = written
	c.cachedRowCount = written
	return c.rowRef(written), nil
}

func (c *Client) rowRef(n int) string {
	return fmt.Sprintf("%s!A%d:%c%d", c.sheetName, n, 'A'+rune(len(export.Header)-1), n)
}

// loadRowsLocked reads column A unless the cached copy is still valid.
func (c *Client) loadRowsLocked(ctx context.Context) error {
	if c.cachedRows != nil && time.Now().Before(c.cacheExpiresAt) {
		return nil
	}
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read trip ids from %s: %w", c.sheetName, err)
	}
	rows := make(map[string]int, len(resp.Values))
	for i, r := range resp.Values {
		if len(r) == 0 {
			continue
		}
		if id := strings.TrimSpace(fmt.Sprint(r[0])); id != "" {
			rows[id] = i + 1
		}
	}
	c.cachedRows = rows
	c.cachedRowCount = len(resp.Values)
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	return nil
}

func (c *Client) invalidateRowCacheLocked() {
	c.cachedRows = nil
	c.cacheExpiresAt = time.Time{}
}
