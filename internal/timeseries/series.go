package timeseries

import (
	"errors"
	"sort"
)

// ErrEmptySeries is returned when a series has no recorded years.
var ErrEmptySeries = errors.New("series has no recorded years")

// Series is a dense, immutable year -> value lookup. Years that were never
// recorded read as zero.
type Series struct {
	values map[int]float64
	years  []int
}

// NewSeries copies values into a Series.
func NewSeries(values map[int]float64) Series {
	s := Series{
		values: make(map[int]float64, len(values)),
		years:  make([]int, 0, len(values)),
	}
	for y, v := range values {
		s.values[y] = v
		s.years = append(s.years, y)
	}
	sort.Ints(s.years)
	return s
}

// ExpandSeries expands a sparse scalar mapping into a Series.
func ExpandSeries(s Sparse[float64]) (Series, error) {
	m, err := Expand(s)
	if err != nil {
		return Series{}, err
	}
	return NewSeries(m), nil
}

// At returns the value recorded for year, or 0 if none was recorded.
func (s Series) At(year int) float64 {
	return s.values[year]
}

// Len returns the number of recorded years.
func (s Series) Len() int {
	return len(s.years)
}

// First returns the earliest recorded year.
func (s Series) First() (int, error) {
	if len(s.years) == 0 {
		return 0, ErrEmptySeries
	}
	return s.years[0], nil
}

// Last returns the latest recorded year.
func (s Series) Last() (int, error) {
	if len(s.years) == 0 {
		return 0, ErrEmptySeries
	}
	return s.years[len(s.years)-1], nil
}

// Years returns the recorded years in ascending order.
func (s Series) Years() []int {
	out := make([]int, len(s.years))
	copy(out, s.years)
	return out
}

// CumulativeThrough sums every recorded value for years <= year.
func (s Series) CumulativeThrough(year int) float64 {
	var total float64
	for _, y := range s.years {
		if y > year {
			break
		}
		total += s.values[y]
	}
	return total
}
