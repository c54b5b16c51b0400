/*
Package export renders instances as CSV or Excel files.

The first row holds the column titles, every further row one instance.
Values are rendered as plain strings, see schema.Field.RenderString.
*/
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// Format is a file format of exports
type Format string

// supported formats
const (
	CSV   Format = "csv"
	Excel Format = "excel"
)

// ParseFormat returns the format named by s. The second return value is false if s
// names no supported format, in which case the format is CSV.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case CSV:
		return CSV, true
	case Excel:
		return Excel, true
	}
	return CSV, false
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == Excel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Extension returns the file extension of the format
func (f Format) Extension() string {
	if f == Excel {
		return "xlsx"
	}
	return "csv"
}

// Filename returns the file name of an export of e
func (f Format) Filename(e *schema.Entity) string {
	return fmt.Sprintf("%s_%s.%s", e.Namespace, e.Name, f.Extension())
}

// Columns returns the exported fields of e. names selects and orders the fields;
// unknown names are skipped. Without names all fields except write-only fields are
// exported, id first.
func Columns(e *schema.Entity, names []string) []*schema.Field {
	var columns []*schema.Field
	if len(names) > 0 {
		for _, name := range names {
			if f, ok := e.Field(name); ok && !f.WriteOnly {
				columns = append(columns, f)
			}
		}
		if len(columns) > 0 {
			return columns
		}
	}
	for _, f := range e.Columns() {
		if !f.WriteOnly {
			columns = append(columns, f)
		}
	}
	return columns
}

// Render writes the instances in the given format. CSV rows are flushed to w one by
// one, Excel files are written once the sheet is complete.
func Render(w io.Writer, format Format, columns []*schema.Field, instances []*storage.Instance) error {
	if format == Excel {
		return renderExcel(w, columns, instances)
	}
	return renderCSV(w, columns, instances)
}

func titles(columns []*schema.Field) []string {
	row := make([]string, len(columns))
	for i, f := range columns {
		row[i] = f.Title()
	}
	return row
}

func renderCSV(w io.Writer, columns []*schema.Field, instances []*storage.Instance) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(titles(columns)); err != nil {
		return err
	}
	writer.Flush()
	row := make([]string, len(columns))
	for _, inst := range instances {
		for i, f := range columns {
			row[i] = f.RenderString(inst.Get(f.Name))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

const sheet = "Sheet1"

func renderExcel(w io.Writer, columns []*schema.Field, instances []*storage.Instance) error {
	file := excelize.NewFile()
	defer file.Close()

	stream, err := file.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(columns))
	for i, title := range titles(columns) {
		header[i] = title
	}
	if err := stream.SetRow("A1", header); err != nil {
		return err
	}
	for n, inst := range instances {
		row := make([]interface{}, len(columns))
		for i, f := range columns {
			row[i] = f.RenderString(inst.Get(f.Name))
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := stream.SetRow(cell, row); err != nil {
			return err
		}
	}
	if err := stream.Flush(); err != nil {
		return err
	}
	_, err = file.WriteTo(w)
	return err
}
