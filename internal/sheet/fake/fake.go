// Package fake implements an in-memory sheet used by tests and dry runs.
package fake

import (
	"context"
	"sync"

	"github.com/stplan/sheetsweep/internal/sheet"
)

// Opener is a fake sheet.Opener serving the same in-memory worksheet for
// every open request.
type Opener struct {
	Worksheet  *Worksheet
	Worksheets []string
	OpenErr    error
}

// NewOpener creates a fake opener over a single empty worksheet.
func NewOpener() *Opener {
	return &Opener{
		Worksheet:  NewWorksheet(),
		Worksheets: []string{"data"},
	}
}

// Open returns the fake worksheet.
func (o *Opener) Open(ctx context.Context, req sheet.OpenRequest) (sheet.Sheet, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return o.Worksheet, nil
}

// ListWorksheets returns the configured worksheet titles.
func (o *Opener) ListWorksheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	return o.Worksheets, nil
}

// Worksheet is an in-memory worksheet. Cells hold the current values, and
// per-address scripts can stage a sequence of values that consecutive reads
// of that address will observe, which lets tests drive a slow remote
// recalculation.
type Worksheet struct {
	mu      sync.Mutex
	cells   map[string]string
	scripts map[string][]string

	// Writes journals every batch write in order, Reads every read address.
	Writes [][]sheet.Cell
	Reads  []string

	ReadErr  error
	WriteErr error
}

// NewWorksheet creates an empty fake worksheet.
func NewWorksheet() *Worksheet {
	return &Worksheet{
		cells:   map[string]string{},
		scripts: map[string][]string{},
	}
}

// SetCell sets the current value of a cell.
func (w *Worksheet) SetCell(address, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cells[address] = value
}

// ScriptReads stages a sequence of values for an address. Each read consumes
// one value; once the script is drained reads observe the last scripted value.
func (w *Worksheet) ScriptReads(address string, values ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scripts[address] = values
}

func (w *Worksheet) readLocked(address string) string {
	w.Reads = append(w.Reads, address)

	script, ok := w.scripts[address]
	if !ok {
		return w.cells[address]
	}

	value := script[0]
	if len(script) > 1 {
		w.scripts[address] = script[1:]
	}
	w.cells[address] = value
	return value
}

func (w *Worksheet) ReadCell(ctx context.Context, address string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ReadErr != nil {
		return "", w.ReadErr
	}
	return w.readLocked(address), nil
}

func (w *Worksheet) ReadCellsBatch(ctx context.Context, addresses []string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ReadErr != nil {
		return nil, w.ReadErr
	}

	values := make([]string, 0, len(addresses))
	for _, address := range addresses {
		values = append(values, w.readLocked(address))
	}
	return values, nil
}

func (w *Worksheet) WriteCellsBatch(ctx context.Context, cells []sheet.Cell) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.WriteErr != nil {
		return w.WriteErr
	}

	for _, cell := range cells {
		w.cells[cell.Address] = cell.Value
	}
	w.Writes = append(w.Writes, cells)
	return nil
}

// Cell returns the current value of a cell.
func (w *Worksheet) Cell(address string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cells[address]
}

// WrittenValues returns every value ever written to an address, in order.
func (w *Worksheet) WrittenValues(address string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var values []string
	for _, batch := range w.Writes {
		for _, cell := range batch {
			if cell.Address == address {
				values = append(values, cell.Value)
			}
		}
	}
	return values
}

var _ sheet.Sheet = &Worksheet{}
var _ sheet.Opener = &Opener{}
