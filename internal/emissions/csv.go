package emissions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column names of the artifact CSV.
const (
	ColumnYear          = "Year"
	ColumnOperationYear = "landfillOperationYear"
	ColumnUnit          = "Unit"

	suffixGeneration = " Generation"
	suffixCapture    = " Capture"
	suffixEmitted    = " Emitted"
)

// ErrMalformedCSV is returned when an artifact CSV cannot be read back.
var ErrMalformedCSV = errors.New("malformed emissions CSV")

// Header returns the CSV header for the table.
func (t *Table) Header() []string {
	h := make([]string, 0, 3+3*len(t.materials))
	h = append(h, ColumnYear, ColumnOperationYear)
	for _, m := range t.materials {
		h = append(h, m+suffixGeneration, m+suffixCapture, m+suffixEmitted)
	}
	return append(h, ColumnUnit)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// WriteCSV writes the table in artifact form.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	rec := make([]string, 0, 3+3*len(t.materials))
	for _, r := range t.rows {
		rec = rec[:0]
		rec = append(rec, strconv.Itoa(r.Year), strconv.Itoa(r.OperationYear))
		for i := range t.materials {
			rec = append(rec, formatFloat(r.Generated[i]), formatFloat(r.Captured[i]), formatFloat(r.Emitted[i]))
		}
		rec = append(rec, t.unit)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an artifact CSV written by WriteCSV.
func ReadCSV(r io.Reader) (*Table, error) {
	return ReadCSVWithDefaults(r, "", 0)
}

// ReadCSVWithDefaults is ReadCSV for a file whose unit and initial year are
// also recorded elsewhere. The defaults apply only when the file has no data
// rows, since those columns are otherwise read from the first row.
func ReadCSVWithDefaults(r io.Reader, unit string, initialYear int) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedCSV, err)
	}
	if len(header) < 3 || (len(header)-3)%3 != 0 ||
		header[0] != ColumnYear || header[1] != ColumnOperationYear || header[len(header)-1] != ColumnUnit {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformedCSV, header)
	}

	nm := (len(header) - 3) / 3
	t := &Table{materials: make([]string, nm), unit: unit, initialYear: initialYear}
	for i := 0; i < nm; i++ {
		g, c, e := header[2+3*i], header[3+3*i], header[4+3*i]
		m := strings.TrimSuffix(g, suffixGeneration)
		if m == g || c != m+suffixCapture || e != m+suffixEmitted {
			return nil, fmt.Errorf("%w: column triple %q, %q, %q", ErrMalformedCSV, g, c, e)
		}
		t.materials[i] = m
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCSV, line, err)
		}
		row := Row{
			Generated: make([]float64, nm),
			Captured:  make([]float64, nm),
			Emitted:   make([]float64, nm),
		}
		if row.Year, err = strconv.Atoi(rec[0]); err != nil {
			return nil, fmt.Errorf("%w: line %d: year: %v", ErrMalformedCSV, line, err)
		}
		if row.OperationYear, err = strconv.Atoi(rec[1]); err != nil {
			return nil, fmt.Errorf("%w: line %d: operation year: %v", ErrMalformedCSV, line, err)
		}
		if row.OperationYear != len(t.rows) {
			return nil, fmt.Errorf("%w: line %d: operation year %d out of sequence", ErrMalformedCSV, line, row.OperationYear)
		}
		for i := 0; i < nm; i++ {
			for j, dst := range []*float64{&row.Generated[i], &row.Captured[i], &row.Emitted[i]} {
				col := 2 + 3*i + j
				if *dst, err = strconv.ParseFloat(rec[col], 64); err != nil {
					return nil, fmt.Errorf("%w: line %d: %s: %v", ErrMalformedCSV, line, header[col], err)
				}
			}
		}
		unit := rec[len(rec)-1]
		if len(t.rows) == 0 {
			t.unit = unit
			t.initialYear = row.Year
		} else if unit != t.unit {
			return nil, fmt.Errorf("%w: line %d: unit %q differs from %q", ErrMalformedCSV, line, unit, t.unit)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}
