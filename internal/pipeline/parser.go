package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxFileBytes is the largest accepted import file.
const DefaultMaxFileBytes = 10 << 20

// maxExcelSerial is 31/12/9999, the last date a workbook can hold.
const maxExcelSerial = 2958465

// FileParser turns the bytes of one import file into rows.
type FileParser interface {
	Parse(data []byte) ([]Row, error)
	Extensions() []string
}

// Registry maps lower-case file extensions to parsers.
type Registry struct {
	parsers map[string]FileParser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]FileParser)}
}

// Register adds p for each of its extensions. Panics on a duplicate extension.
func (r *Registry) Register(p FileParser) {
	for _, ext := range p.Extensions() {
		key := strings.ToLower(ext)
		if _, ok := r.parsers[key]; ok {
			panic("duplicate parser extension: " + key)
		}
		r.parsers[key] = p
	}
}

// ForFile returns the parser for filename's extension, or nil.
func (r *Registry) ForFile(filename string) FileParser {
	return r.parsers[strings.ToLower(filepath.Ext(filename))]
}

// Supports reports whether filename has a registered extension.
func (r *Registry) Supports(filename string) bool {
	return r.ForFile(filename) != nil
}

// DefaultRegistry returns a registry with JSON, CSV, XLSX and XLS parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(JSONParser{})
	r.Register(CSVParser{})
	r.Register(XLSXParser{})
	r.Register(XLSParser{})
	return r
}

// ParseFile dispatches on the extension of filename. maxBytes <= 0 disables
// the size check.
func (r *Registry) ParseFile(filename string, data []byte, maxBytes int64) ([]Row, error) {
	p := r.ForFile(filename)
	if p == nil {
		return nil, fmt.Errorf("ParseFile: %w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("ParseFile: %w: %d bytes exceeds %d", ErrFileTooLarge, len(data), maxBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("ParseFile: %w", ErrEmptyFile)
	}
	rows, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ParseFile: %s: %w", filename, err)
	}
	return rows, nil
}

// JSONParser reads a top-level array of objects.
type JSONParser struct{}

func (JSONParser) Extensions() []string { return []string{".json"} }

func (JSONParser) Parse(data []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if len(raw) == 0 {
		return nil, ErrTooFewRows
	}

	rows := make([]Row, 0, len(raw))
	for i, obj := range raw {
		if obj == nil {
			return nil, fmt.Errorf("%w: element %d is null", ErrInvalidJSON, i)
		}
		rows = append(rows, Row(obj))
	}
	return rows, nil
}

// CSVParser reads comma separated values with a header row.
type CSVParser struct{}

func (CSVParser) Extensions() []string { return []string{".csv"} }

func (CSVParser) Parse(data []byte) ([]Row, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var grid [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		grid = append(grid, record)
	}
	return zipGrid(grid)
}

// XLSXParser reads the first worksheet of an Office Open XML workbook.
type XLSXParser struct{}

func (XLSXParser) Extensions() []string { return []string{".xlsx"} }

func (XLSXParser) Parse(data []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrTooFewRows
	}
	grid, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	rows, err := zipGrid(grid)
	if err != nil {
		return nil, err
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}
	convertSerials(rows, date1904)
	return rows, nil
}

// XLSParser reads the first worksheet of a legacy BIFF workbook.
type XLSParser struct{}

func (XLSParser) Extensions() []string { return []string{".xls"} }

func (XLSParser) Parse(data []byte) ([]Row, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrTooFewRows
	}

	var grid [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		grid = append(grid, cells)
	}
	rows, err := zipGrid(grid)
	if err != nil {
		return nil, err
	}
	convertSerials(rows, false)
	return rows, nil
}

// convertSerials turns numeric workbook serials in the Date and Time columns
// into a time value and a HH:MM:SS clock respectively.
func convertSerials(rows []Row, date1904 bool) {
	for _, row := range rows {
		if serial, ok := serialValue(row[ColDate]); ok && serial >= 1 {
			if t, err := excelize.ExcelDateToTime(serial, date1904); err == nil {
				row[ColDate] = t
			}
		}
		if serial, ok := serialValue(row[ColTime]); ok && serial < 1 {
			secs := time.Duration(math.Round(serial*86400)) * time.Second
			row[ColTime] = time.Time{}.Add(secs).Format(time.TimeOnly)
		}
	}
}

func serialValue(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || serial < 0 || serial > maxExcelSerial {
		return 0, false
	}
	return serial, true
}

// zipGrid turns a header row plus data rows into keyed rows. Blank header
// cells drop their column and fully blank data rows are skipped.
func zipGrid(grid [][]string) ([]Row, error) {
	for len(grid) > 0 && blankRecord(grid[0]) {
		grid = grid[1:]
	}
	if len(grid) < 2 {
		return nil, ErrTooFewRows
	}

	header := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		header[i] = strings.TrimSpace(h)
	}

	rows := make([]Row, 0, len(grid)-1)
	for _, record := range grid[1:] {
		if blankRecord(record) {
			continue
		}
		row := Row{}
		for i, name := range header {
			if name == "" || i >= len(record) {
				continue
			}
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrTooFewRows
	}
	return rows, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
