package sheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/stplan/sheetsweep/internal/model"
)

// Cell is a single cell write or read, addressed in A1 notation relative to a
// worksheet (e.g. "B2", "AA10").
type Cell struct {
	Address string
	Value   string
}

// Sheet gives read/write access to one worksheet of a remote spreadsheet.
type Sheet interface {
	// ReadCell reads a single cell. Blank cells read as the empty string.
	ReadCell(ctx context.Context, address string) (string, error)
	// ReadCellsBatch reads several cells in one remote call. Implementations
	// return the values in the same order as the requested addresses.
	ReadCellsBatch(ctx context.Context, addresses []string) ([]string, error)
	// WriteCellsBatch writes several cells in one remote call.
	WriteCellsBatch(ctx context.Context, cells []Cell) error
}

// Opener opens worksheets of remote spreadsheets.
type Opener interface {
	// Open returns a handle on the requested worksheet.
	Open(ctx context.Context, req OpenRequest) (Sheet, error)
	// ListWorksheets returns the worksheet titles of a spreadsheet.
	ListWorksheets(ctx context.Context, spreadsheetID string) ([]string, error)
}

// OpenRequest identifies one worksheet of a remote spreadsheet.
type OpenRequest struct {
	SpreadsheetID string
	WorksheetName string

	// TokenFile and ProxyURL override the opener's default credentials for
	// this worksheet when set. Openers without credential handling ignore
	// them.
	TokenFile string
	ProxyURL  string
}

// Validate validates the open request.
func (r *OpenRequest) Validate() error {
	if r.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet id is required: %w", model.ErrNotValid)
	}
	if r.WorksheetName == "" {
		return fmt.Errorf("worksheet name is required: %w", model.ErrNotValid)
	}
	return nil
}

// ColumnLetterToIndex converts a column letter to its 1-based index
// ("A" is 1, "Z" is 26, "AA" is 27).
func ColumnLetterToIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column letters: %w", model.ErrNotValid)
	}

	index := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column letters %q: %w", letters, model.ErrNotValid)
		}
		index = index*26 + int(r-'A'+1)
	}
	return index, nil
}

// IndexToColumnLetter converts a 1-based column index to its letters
// (1 is "A", 26 is "Z", 27 is "AA").
func IndexToColumnLetter(index int) (string, error) {
	if index < 1 {
		return "", fmt.Errorf("invalid column index %d: %w", index, model.ErrNotValid)
	}

	var letters []byte
	for index > 0 {
		index--
		letters = append([]byte{byte('A' + index%26)}, letters...)
		index /= 26
	}
	return string(letters), nil
}

// ParseAddress splits an A1 address into its 1-based row and column indexes.
func ParseAddress(address string) (row, col int, err error) {
	split := 0
	for split < len(address) {
		c := address[split]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			break
		}
		split++
	}
	if split == 0 || split == len(address) {
		return 0, 0, fmt.Errorf("invalid cell address %q: %w", address, model.ErrNotValid)
	}

	col, err = ColumnLetterToIndex(address[:split])
	if err != nil {
		return 0, 0, err
	}

	row = 0
	for _, r := range address[split:] {
		if r < '0' || r > '9' {
			return 0, 0, fmt.Errorf("invalid cell address %q: %w", address, model.ErrNotValid)
		}
		row = row*10 + int(r-'0')
	}
	if row < 1 {
		return 0, 0, fmt.Errorf("invalid cell address %q: %w", address, model.ErrNotValid)
	}

	return row, col, nil
}
