package sheet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/sheet"
)

func TestColumnLetterToIndex(t *testing.T) {
	tests := map[string]struct {
		letters  string
		expIndex int
		expErr   error
	}{
		"A should be column 1.":   {letters: "A", expIndex: 1},
		"Z should be column 26.":  {letters: "Z", expIndex: 26},
		"AA should be column 27.": {letters: "AA", expIndex: 27},
		"AZ should be column 52.": {letters: "AZ", expIndex: 52},
		"BA should be column 53.": {letters: "BA", expIndex: 53},
		"ZZ should be column 702.": {
			letters:  "ZZ",
			expIndex: 702,
		},
		"AAA should be column 703.": {
			letters:  "AAA",
			expIndex: 703,
		},
		"Lowercase letters should be accepted.": {letters: "aa", expIndex: 27},
		"Empty letters should fail.":            {letters: "", expErr: model.ErrNotValid},
		"Digits should fail.":                   {letters: "A1", expErr: model.ErrNotValid},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			index, err := sheet.ColumnLetterToIndex(test.letters)

			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, test.expIndex, index)
			}
		})
	}
}

func TestIndexToColumnLetter(t *testing.T) {
	tests := map[string]struct {
		index      int
		expLetters string
		expErr     error
	}{
		"Column 1 should be A.":     {index: 1, expLetters: "A"},
		"Column 26 should be Z.":    {index: 26, expLetters: "Z"},
		"Column 27 should be AA.":   {index: 27, expLetters: "AA"},
		"Column 52 should be AZ.":   {index: 52, expLetters: "AZ"},
		"Column 53 should be BA.":   {index: 53, expLetters: "BA"},
		"Column 702 should be ZZ.":  {index: 702, expLetters: "ZZ"},
		"Column 703 should be AAA.": {index: 703, expLetters: "AAA"},
		"Column 0 should fail.":     {index: 0, expErr: model.ErrNotValid},
		"Negative columns should fail.": {
			index:  -3,
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			letters, err := sheet.IndexToColumnLetter(test.index)

			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, test.expLetters, letters)
			}
		})
	}
}

func TestColumnRoundTrip(t *testing.T) {
	assert := assert.New(t)

	for index := 1; index <= 1000; index++ {
		letters, err := sheet.IndexToColumnLetter(index)
		require.NoError(t, err)

		back, err := sheet.ColumnLetterToIndex(letters)
		require.NoError(t, err)

		assert.Equal(index, back, "column %q", letters)
	}
}

func TestParseAddress(t *testing.T) {
	tests := map[string]struct {
		address string
		expRow  int
		expCol  int
		expErr  error
	}{
		"A1 should be row 1, column 1.":    {address: "A1", expRow: 1, expCol: 1},
		"B2 should be row 2, column 2.":    {address: "B2", expRow: 2, expCol: 2},
		"AA10 should be row 10, column 27.": {
			address: "AA10",
			expRow:  10,
			expCol:  27,
		},
		"An address without a row should fail.":    {address: "AA", expErr: model.ErrNotValid},
		"An address without a column should fail.": {address: "42", expErr: model.ErrNotValid},
		"A zero row should fail.":                  {address: "A0", expErr: model.ErrNotValid},
		"Trailing garbage should fail.":            {address: "A1X", expErr: model.ErrNotValid},
		"An empty address should fail.":            {address: "", expErr: model.ErrNotValid},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			row, col, err := sheet.ParseAddress(test.address)

			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, test.expRow, row)
				assert.Equal(t, test.expCol, col)
			}
		})
	}
}

func TestOpenRequestValidate(t *testing.T) {
	tests := map[string]struct {
		request sheet.OpenRequest
		expErr  error
	}{
		"A complete request should be valid.": {
			request: sheet.OpenRequest{SpreadsheetID: "sheet-id", WorksheetName: "data"},
		},
		"A request without spreadsheet id should fail.": {
			request: sheet.OpenRequest{WorksheetName: "data"},
			expErr:  model.ErrNotValid,
		},
		"A request without worksheet name should fail.": {
			request: sheet.OpenRequest{SpreadsheetID: "sheet-id"},
			expErr:  model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.request.Validate()

			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
