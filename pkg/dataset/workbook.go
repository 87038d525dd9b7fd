package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const DefaultSampleRows = 5

// Table is a sheet read as strings: a header row and data rows padded to the
// header width.
type Table struct {
	Sheet   string
	Columns []string
	Rows    [][]string
}

// Column returns the index of the named column or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// CSV renders the header and up to n rows (all rows when n < 0).
func (t *Table) CSV(n int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return "", err
	}
	rows := t.Rows
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Workbook reads sheets from an xlsx file. Each call opens the file so the
// workbook can be replaced on disk without restarting.
type Workbook struct {
	path string
}

func NewWorkbook(path string) *Workbook {
	return &Workbook{path: path}
}

func (w *Workbook) Path() string {
	return w.path
}

func (w *Workbook) SheetNames() ([]string, error) {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", w.path, err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func (w *Workbook) ReadSheet(name string) (*Table, error) {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", w.path, err)
	}
	defer f.Close()
	return readSheet(f, name)
}

// ReadSheets reads several sheets with a single open of the file.
func (w *Workbook) ReadSheets(names ...string) (map[string]*Table, error) {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", w.path, err)
	}
	defer f.Close()

	tables := make(map[string]*Table, len(names))
	for _, name := range names {
		t, err := readSheet(f, name)
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

func readSheet(f *excelize.File, name string) (*Table, error) {
	if idx, err := f.GetSheetIndex(name); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", name)
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}
	t := &Table{Sheet: name}
	if len(rows) == 0 {
		return t, nil
	}
	t.Columns = make([]string, len(rows[0]))
	for i, c := range rows[0] {
		t.Columns[i] = strings.TrimSpace(c)
	}
	for _, r := range rows[1:] {
		if isBlank(r) {
			continue
		}
		row := make([]string, len(t.Columns))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Sample renders the first n rows of every sheet as CSV blocks headed by
// "sheet:<name>". When sheets is empty every sheet in the workbook is used.
func (w *Workbook) Sample(sheets []string, n int) (string, error) {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return "", fmt.Errorf("failed to open workbook %s: %w", w.path, err)
	}
	defer f.Close()

	if len(sheets) == 0 {
		sheets = f.GetSheetList()
	}

	var sb strings.Builder
	for i, name := range sheets {
		t, err := readSheet(f, name)
		if err != nil {
			return "", err
		}
		block, err := t.CSV(n)
		if err != nil {
			return "", fmt.Errorf("failed to render sample for %q: %w", name, err)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("sheet:" + name + "\n")
		sb.WriteString(block)
	}
	return sb.String(), nil
}
