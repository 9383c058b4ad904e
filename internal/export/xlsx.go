// Package export reads enforcement-procedure numbers from spreadsheets and
// writes lookup results back, preserving the input sheet's row order.
package export

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/svplaksin/fssp-api/pkg/fssp"
)

// ErrNoNumbers indicates the input sheet held no usable numbers.
var ErrNoNumbers = errors.New("no numbers found in input sheet")

// Row is one input line: the number and its original sheet position.
type Row struct {
	Number string
	// Index is the 1-based sheet row the number came from.
	Index int
	// KnownAmount is a debt amount already present in the second column,
	// nil when the cell is empty or not a number.
	KnownAmount *float64
}

// LoadNumbers reads the first column of the first sheet, and an optional
// already-known debt amount from the second column. A header row is skipped
// when its first cell does not look like a procedure number (no digit in
// it). Blank cells are skipped.
func LoadNumbers(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrNoNumbers
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	out := make([]Row, 0, len(rows))
	for i, cells := range rows {
		if len(cells) == 0 {
			continue
		}
		number := strings.TrimSpace(cells[0])
		if number == "" {
			continue
		}
		if i == 0 && !strings.ContainsAny(number, "0123456789") {
			// Header row.
			continue
		}

		row := Row{Number: number, Index: i + 1}
		if len(cells) > 1 {
			if amount, err := strconv.ParseFloat(strings.TrimSpace(cells[1]), 64); err == nil {
				row.KnownAmount = &amount
			}
		}
		out = append(out, row)
	}

	if len(out) == 0 {
		return nil, ErrNoNumbers
	}
	return out, nil
}

// resultHeader is the column layout of the output sheet.
var resultHeader = []interface{}{"Number", "Status", "Amount", "Attempts", "Reason"}

// WriteResults writes one row per input number, in input order, merging in
// the outcome recorded for it. Numbers without an outcome (still pending
// after a partial run) get an empty status.
func WriteResults(path string, rows []Row, results *fssp.ResultSet) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &resultHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	outcomes := results.Outcomes()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}

		out, ok := outcomes[row.Number]
		var values []interface{}
		if ok {
			values = []interface{}{row.Number, string(out.Status), out.Amount, out.Attempts, out.Reason}
		} else {
			values = []interface{}{row.Number, "", nil, nil, ""}
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save output file: %w", err)
	}
	return nil
}
