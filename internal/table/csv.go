// ABOUTME: Delimited-text codec for frames with per-column numeric type inference.
// ABOUTME: Writes go through a temporary file and rename so no partial file is left behind.

package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/types"
)

// Cell values read as missing, as in common spreadsheet and dataframe exports
var missingValues = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"n/a":  true,
	"NaN":  true,
	"nan":  true,
	"-nan": true,
	"NULL": true,
	"null": true,
	"None": true,
	"<NA>": true,
	"#N/A": true,
}

// ReadCSVFile reads a delimited-text file from disk
func ReadCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NewError(types.KindInputNotFound, "file not found: %s", path)
		}
		return nil, types.WrapError(types.KindSchemaError, err, "failed to open %s", path)
	}
	defer file.Close()

	frame, err := ReadCSV(file)
	if err != nil {
		return nil, types.WrapError(types.KindSchemaError, err, "failed to read %s", path)
	}
	return frame, nil
}

// ReadCSV parses a header row followed by data rows. Columns whose non-missing
// cells all parse as numbers become numeric columns.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	header = dedupeHeader(header)

	cells := make([][]string, len(header))
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("line %d has %d fields, header has %d", line, len(record), len(header))
		}
		for i := range header {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			cells[i] = append(cells[i], value)
		}
	}

	rows := 0
	if len(cells) > 0 {
		rows = len(cells[0])
	}
	frame := New(rows)
	for i, name := range header {
		if err := frame.Set(inferColumn(name, cells[i], rows)); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// dedupeHeader renames repeated column names to name.1, name.2, ...
func dedupeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, name := range header {
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			out[i] = fmt.Sprintf("%s.%d", name, n+1)
			continue
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}

func inferColumn(name string, values []string, rows int) *Column {
	if values == nil {
		values = make([]string, rows)
	}

	floats := make([]float64, len(values))
	numeric := true
	for i, raw := range values {
		trimmed := strings.TrimSpace(raw)
		if missingValues[trimmed] {
			floats[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			numeric = false
			break
		}
		floats[i] = v
	}
	if numeric {
		return NewNumericColumn(name, floats)
	}

	texts := make([]string, len(values))
	for i, raw := range values {
		if missingValues[strings.TrimSpace(raw)] {
			continue
		}
		texts[i] = raw
	}
	return NewTextColumn(name, texts)
}

// WriteCSV writes the frame with a header row
func WriteCSV(w io.Writer, f *Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.Names()); err != nil {
		return err
	}

	record := make([]string, len(f.columns))
	for row := 0; row < f.rows; row++ {
		for i, col := range f.columns {
			text, _ := col.Text(row)
			record[i] = text
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the frame to path atomically: the data lands in a temporary
// file in the same directory which is renamed over path only after a full write.
func WriteCSVFile(path string, f *Frame) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary output file: %w", err)
	}
	tmpName := tmp.Name()

	if err := WriteCSV(tmp, f); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
