// Package export writes a run's analysis results to spreadsheet or
// line-delimited JSON files.
package export

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/topic-analysis/internal/fileutil"
	"github.com/sells-group/topic-analysis/internal/model"
)

// Supported formats.
const (
	FormatXLSX  = "xlsx"
	FormatJSONL = "jsonl"
)

const sheetName = "analysis"

// Header is the first row of the spreadsheet.
var Header = []string{"file_name", "category", "tags", "description", "related_memory"}

// FormatFor picks a format from an explicit value or, when blank, from the
// path's extension.
func FormatFor(path, format string) (string, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case FormatXLSX, FormatJSONL:
		return format, nil
	default:
		return "", eris.Errorf("export: unsupported format %q (want xlsx or jsonl)", format)
	}
}

// Write exports results to path in the given format.
func Write(path, format string, results []model.ResultEntry) error {
	format, err := FormatFor(path, format)
	if err != nil {
		return err
	}
	if format == FormatXLSX {
		return WriteXLSX(path, results)
	}
	return WriteJSONL(path, results)
}

// Row flattens one result. Tags are joined with ", ".
func Row(r model.ResultEntry) []string {
	return []string{
		r.FileName,
		r.Analysis.Category,
		strings.Join(r.Analysis.Tags, ", "),
		r.Analysis.Description,
		r.Analysis.RelatedMemory,
	}
}

// WriteXLSX writes a single-sheet workbook with a header row.
func WriteXLSX(path string, results []model.ResultEntry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Header)
	for _, r := range results {
		addRow(sheet, Row(r))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return eris.Wrap(err, "export: encode xlsx")
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// WriteJSONL writes one result object per line.
func WriteJSONL(path string, results []model.ResultEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return eris.Wrapf(err, "export: encode %s", r.FileName)
		}
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
