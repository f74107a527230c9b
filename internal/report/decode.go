package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"openfms/console/internal/apperr"
)

// DefaultHeaderRows is the number of title rows the backend writes above the column names.
const DefaultHeaderRows = 7

const emptyHeader = "__EMPTY"

// Cell is one named value of a decoded row.
type Cell struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Row keeps cells in sheet column order. Blank cells are left out.
type Row []Cell

func (r Row) Get(column string) (string, bool) {
	for _, c := range r {
		if c.Column == column {
			return c.Value, true
		}
	}
	return "", false
}

// MarshalJSON encodes the row as an object whose keys keep column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Column)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Table is a decoded report.
type Table struct {
	Sheet string `json:"sheet"`
	Rows  []Row  `json:"rows"`
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Columns are the keys of the first row. An empty table has none.
func (t *Table) Columns() []string {
	if t.Len() == 0 {
		return nil
	}
	cols := make([]string, 0, len(t.Rows[0]))
	for _, c := range t.Rows[0] {
		cols = append(cols, c.Column)
	}
	return cols
}

// Decode reads the first sheet of an xlsx payload. The first headerRows rows are
// skipped, the next row names the columns and every following non-blank row
// becomes a Row.
func Decode(data []byte, headerRows int) (*Table, error) {
	if len(data) == 0 {
		return nil, apperr.Decode("report file is empty", apperr.ErrEmptyWorkbook)
	}
	if headerRows < 0 {
		headerRows = 0
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Decode("report file is not a readable workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperr.Decode("report file has no sheets", apperr.ErrEmptyWorkbook)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperr.Decode(fmt.Sprintf("cannot read sheet %q", sheet), err)
	}

	table := &Table{Sheet: sheet, Rows: []Row{}}
	if len(rows) <= headerRows {
		return table, nil
	}

	width := 0
	for _, raw := range rows[headerRows:] {
		if len(raw) > width {
			width = len(raw)
		}
	}
	header := columnNames(rows[headerRows], width)
	for _, raw := range rows[headerRows+1:] {
		var row Row
		for i, value := range raw {
			if value == "" {
				continue
			}
			row = append(row, Cell{Column: header[i], Value: value})
		}
		if len(row) == 0 {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// columnNames names width columns from the header cells. Blank or missing header
// cells become __EMPTY, __EMPTY_1, ... and repeated names get _1, _2, ...
func columnNames(cells []string, width int) []string {
	if len(cells) > width {
		width = len(cells)
	}
	seen := make(map[string]int, width)
	names := make([]string, width)
	for i := range names {
		base := emptyHeader
		if i < len(cells) && cells[i] != "" {
			base = cells[i]
		}
		names[i] = uniqueName(seen, base)
	}
	return names
}

func uniqueName(seen map[string]int, base string) string {
	n, ok := seen[base]
	if !ok {
		seen[base] = 1
		return base
	}
	name := fmt.Sprintf("%s_%d", base, n)
	for {
		if _, taken := seen[name]; !taken {
			break
		}
		n++
		name = fmt.Sprintf("%s_%d", base, n)
	}
	seen[base] = n + 1
	seen[name] = 1
	return name
}
