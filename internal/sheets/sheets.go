// Package sheets persists booking records to a Google Sheets spreadsheet.
//
// Rows are appended to a fixed range with a fixed column order: name, phone,
// service, date, master, comment. The sheet is append-only; nothing in
// ClubAssist ever updates or deletes a row.
package sheets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fitclub/ClubAssist/internal/models"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Default configuration constants
const (
	// DefaultRange is the append range of the booking sheet (columns A-F).
	DefaultRange = "Лист1!A:F"
)

// Appender is the booking-persistence abstraction used by the dispatcher
// (for production and testing).
type Appender interface {
	AppendBooking(ctx context.Context, b models.Booking) error
}

// Opts holds configuration options for the sheets client.
type Opts struct {
	CredentialsFile string // service-account credentials JSON path
	SpreadsheetID   string // target spreadsheet identifier
	Range           string // append range, defaults to DefaultRange
}

// Option defines a configuration option for the sheets client.
type Option func(*Opts)

// WithCredentialsFile sets the service-account credentials file path.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// WithSpreadsheetID sets the target spreadsheet identifier.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) { o.SpreadsheetID = id }
}

// WithRange overrides the append range.
func WithRange(rng string) Option {
	return func(o *Opts) { o.Range = rng }
}

// Client appends booking rows via the Google Sheets API.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
	appendRange   string
}

// NewClient creates a sheets client from the provided options. Both the
// credentials file and the spreadsheet ID are required; a missing value is a
// configuration error and the caller degrades the booking-persistence
// feature instead of crashing.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Range == "" {
		cfg.Range = DefaultRange
	}
	slog.Debug("sheets.NewClient: options set", "credentials_set", cfg.CredentialsFile != "", "spreadsheet_set", cfg.SpreadsheetID != "", "range", cfg.Range)

	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID not configured")
	}
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("credentials file not configured")
	}

	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		slog.Error("sheets.NewClient: failed to initialize Sheets service", "error", err)
		return nil, fmt.Errorf("failed to initialize sheets service: %w", err)
	}

	slog.Info("sheets.NewClient: Sheets service initialized", "range", cfg.Range)
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, appendRange: cfg.Range}, nil
}

// AppendBooking appends one booking row. The phone value is written with a
// leading apostrophe so the sheet keeps it textual instead of reinterpreting
// it as a number.
func (c *Client) AppendBooking(ctx context.Context, b models.Booking) error {
	row := []interface{}{
		b.Name,
		"'" + b.Phone,
		b.Service,
		b.Date,
		b.Master,
		b.Comment,
	}
	body := &sheets.ValueRange{Values: [][]interface{}{row}}

	result, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.appendRange, body).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		slog.Error("sheets.AppendBooking: append failed", "error", err, "spreadsheet", c.spreadsheetID)
		return fmt.Errorf("failed to append booking row: %w", err)
	}

	slog.Info("sheets.AppendBooking: booking row appended", "updated_range", result.Updates.UpdatedRange, "updated_rows", result.Updates.UpdatedRows)
	return nil
}
