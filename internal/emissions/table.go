package emissions

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Row is one (calendar year, operation year) line of the output. Slices are
// indexed like Table.Materials.
type Row struct {
	Year          int
	OperationYear int
	Generated     []float64
	Captured      []float64
	Emitted       []float64
}

func (r Row) clone() Row {
	return Row{
		Year:          r.Year,
		OperationYear: r.OperationYear,
		Generated:     append([]float64(nil), r.Generated...),
		Captured:      append([]float64(nil), r.Captured...),
		Emitted:       append([]float64(nil), r.Emitted...),
	}
}

// Record is the flat (year, operation year, material) view of one cell.
type Record struct {
	Year          int
	OperationYear int
	Material      string
	Generated     float64
	Captured      float64
	Emitted       float64
}

// Table is the write-once result of a model run or of reading an artifact.
// Accessors return copies.
type Table struct {
	materials   []string
	unit        string
	initialYear int
	rows        []Row

	// vintages[y][i][v] is the generation in operation year y of material i
	// from waste deposited in operation year v. Nil for tables read from
	// disk.
	vintages [][][]float64
}

// Materials returns the material names in column order.
func (t *Table) Materials() []string {
	return append([]string(nil), t.materials...)
}

// Unit returns the mass unit label.
func (t *Table) Unit() string {
	return t.unit
}

// InitialYear returns the calendar year of operation year 0.
func (t *Table) InitialYear() int {
	return t.initialYear
}

// Len returns the number of operation years.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns a copy of every row in operation-year order.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.clone()
	}
	return out
}

// Row returns the row for operation year y.
func (t *Table) Row(y int) (Row, bool) {
	if y < 0 || y >= len(t.rows) {
		return Row{}, false
	}
	return t.rows[y].clone(), true
}

func (t *Table) materialIndex(material string) int {
	for i, m := range t.materials {
		if m == material {
			return i
		}
	}
	return -1
}

// Record returns the cell for operation year y and material.
func (t *Table) Record(y int, material string) (Record, bool) {
	i := t.materialIndex(material)
	if i < 0 || y < 0 || y >= len(t.rows) {
		return Record{}, false
	}
	r := t.rows[y]
	return Record{
		Year:          r.Year,
		OperationYear: r.OperationYear,
		Material:      material,
		Generated:     r.Generated[i],
		Captured:      r.Captured[i],
		Emitted:       r.Emitted[i],
	}, true
}

// Records flattens the table, ordered by operation year then material.
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.rows)*len(t.materials))
	for _, r := range t.rows {
		for i, m := range t.materials {
			out = append(out, Record{
				Year:          r.Year,
				OperationYear: r.OperationYear,
				Material:      m,
				Generated:     r.Generated[i],
				Captured:      r.Captured[i],
				Emitted:       r.Emitted[i],
			})
		}
	}
	return out
}

// Totals sums every material for operation year y.
func (t *Table) Totals(y int) (generated, captured, emitted float64) {
	if y < 0 || y >= len(t.rows) {
		return 0, 0, 0
	}
	r := t.rows[y]
	return floats.Sum(r.Generated), floats.Sum(r.Captured), floats.Sum(r.Emitted)
}

// VintageContributions returns, for operation year y and material, the
// generation attributable to each deposit year v in [0, y]. Summing the
// result gives the Generated value. Tables read back from an artifact carry
// no vintage detail.
func (t *Table) VintageContributions(y int, material string) ([]float64, error) {
	if t.vintages == nil {
		return nil, fmt.Errorf("table has no vintage detail")
	}
	i := t.materialIndex(material)
	if i < 0 {
		return nil, fmt.Errorf("unknown material %q", material)
	}
	if y < 0 || y >= len(t.vintages) {
		return nil, fmt.Errorf("operation year %d outside [0, %d)", y, len(t.vintages))
	}
	return append([]float64(nil), t.vintages[y][i]...), nil
}
