// Package gsheets implements sheet access on the Google Sheets API.
package gsheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/sheet"
)

// OpenerConfig is the configuration of the Google Sheets opener.
type OpenerConfig struct {
	// TokenFile is the path to the Google credentials JSON (service account or
	// authorized user).
	TokenFile string
	// ProxyURL routes the API traffic through an HTTP proxy when set.
	ProxyURL string
	Logger   log.Logger
}

func (c *OpenerConfig) defaults() error {
	if c.TokenFile == "" {
		return fmt.Errorf("token file is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sheet.GSheets"})
	return nil
}

// Opener opens worksheets through the Google Sheets API.
type Opener struct {
	svc    *sheets.Service
	logger log.Logger
}

// NewOpener creates a Google Sheets opener authenticated with the configured
// credentials file.
func NewOpener(ctx context.Context, cfg OpenerConfig) (*Opener, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	data, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not read token file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("could not load credentials: %w", err)
	}

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxy)
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: transport})
		cfg.Logger.Debugf("Google Sheets traffic routed through %s", proxy.Host)
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("could not create sheets service: %w", err)
	}

	return &Opener{svc: svc, logger: cfg.Logger}, nil
}

// Open returns a handle on the requested worksheet.
func (o *Opener) Open(ctx context.Context, req sheet.OpenRequest) (sheet.Sheet, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid open request: %w", err)
	}

	return &worksheet{
		svc:           o.svc,
		spreadsheetID: req.SpreadsheetID,
		name:          req.WorksheetName,
		logger: o.logger.WithValues(log.Kv{
			"spreadsheet": req.SpreadsheetID,
			"worksheet":   req.WorksheetName,
		}),
	}, nil
}

// ListWorksheets returns the worksheet titles of a spreadsheet.
func (o *Opener) ListWorksheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	resp, err := o.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("could not get spreadsheet: %w", err)
	}

	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

type worksheet struct {
	svc           *sheets.Service
	spreadsheetID string
	name          string
	logger        log.Logger
}

func (w *worksheet) rangeFor(address string) string {
	return fmt.Sprintf("'%s'!%s", w.name, address)
}

func (w *worksheet) ReadCell(ctx context.Context, address string) (string, error) {
	resp, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, w.rangeFor(address)).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("could not read cell %s: %w", address, err)
	}

	return firstValue(resp.Values), nil
}

// ReadCellsBatch reads all cells in one API call and falls back to per-cell
// reads when the batch call fails, so one malformed range does not take the
// whole read down.
func (w *worksheet) ReadCellsBatch(ctx context.Context, addresses []string) ([]string, error) {
	ranges := make([]string, 0, len(addresses))
	for _, address := range addresses {
		ranges = append(ranges, w.rangeFor(address))
	}

	resp, err := w.svc.Spreadsheets.Values.BatchGet(w.spreadsheetID).
		Ranges(ranges...).
		Context(ctx).Do()
	if err != nil {
		w.logger.WithCtxValues(ctx).Warningf("Batch read failed, falling back to single cell reads: %s", err)
		return w.readCellsOneByOne(ctx, addresses)
	}

	if len(resp.ValueRanges) != len(addresses) {
		return nil, fmt.Errorf("got %d value ranges for %d addresses", len(resp.ValueRanges), len(addresses))
	}

	values := make([]string, 0, len(addresses))
	for _, vr := range resp.ValueRanges {
		values = append(values, firstValue(vr.Values))
	}
	return values, nil
}

func (w *worksheet) readCellsOneByOne(ctx context.Context, addresses []string) ([]string, error) {
	values := make([]string, 0, len(addresses))
	for _, address := range addresses {
		value, err := w.ReadCell(ctx, address)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (w *worksheet) WriteCellsBatch(ctx context.Context, cells []sheet.Cell) error {
	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, cell := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  w.rangeFor(cell.Address),
			Values: [][]interface{}{{cell.Value}},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}
	_, err := w.svc.Spreadsheets.Values.BatchUpdate(w.spreadsheetID, req).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("could not write cells: %w", err)
	}

	return nil
}

func firstValue(values [][]interface{}) string {
	if len(values) == 0 || len(values[0]) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", values[0][0])
}
