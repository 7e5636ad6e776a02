package generator

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"report_scheduler/internal/datasource"

	"github.com/xuri/excelize/v2"
)

const (
	FormatTSV  = "tsv"
	FormatXLSX = "xlsx"
)

// Writer renders query rows into one output file.
type Writer interface {
	Write(baseName string, rows *datasource.Rows) (Output, error)
}

// NewWriter returns the writer for a format name.
func NewWriter(format string) (Writer, error) {
	switch format {
	case FormatTSV:
		return TSVWriter{}, nil
	case FormatXLSX:
		return XLSXWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}

// TSVWriter writes tab separated values with a header row.
type TSVWriter struct{}

func (TSVWriter) Write(baseName string, rows *datasource.Rows) (Output, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'

	if err := w.Write(rows.Columns); err != nil {
		return Output{}, err
	}
	for i, row := range rows.Values {
		if err := rows.CheckRow(i, row); err != nil {
			return Output{}, err
		}
		record := make([]string, len(row))
		for c, v := range row {
			record[c] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return Output{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Output{}, fmt.Errorf("failed to write tsv: %w", err)
	}

	return Output{
		Filename:    baseName + ".tsv",
		ContentType: "text/tab-separated-values",
		Body:        buf.Bytes(),
	}, nil
}

// XLSXWriter writes a single-sheet workbook with a styled header row.
type XLSXWriter struct{}

func (XLSXWriter) Write(baseName string, rows *datasource.Rows) (Output, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Report"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return Output{}, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6FA"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return Output{}, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range rows.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return Output{}, err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return Output{}, err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return Output{}, err
		}
	}

	for r, row := range rows.Values {
		if err := rows.CheckRow(r, row); err != nil {
			return Output{}, err
		}
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return Output{}, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return Output{}, err
			}
		}
	}

	if len(rows.Columns) > 0 {
		last, err := excelize.ColumnNumberToName(len(rows.Columns))
		if err != nil {
			return Output{}, err
		}
		if err := f.SetColWidth(sheet, "A", last, 20); err != nil {
			return Output{}, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return Output{}, fmt.Errorf("failed to write xlsx: %w", err)
	}

	return Output{
		Filename:    baseName + ".xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Body:        buf.Bytes(),
	}, nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
