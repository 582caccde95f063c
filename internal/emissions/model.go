// Package emissions implements the first-order decay model that turns a
// waste acceptance history into methane generated, captured and emitted per
// landfill operation year and material.
package emissions

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MethaneToCarbon is the molecular weight ratio of CH4 to C.
const MethaneToCarbon = 16.0 / 12.0

var (
	// ErrMissingRate is matched by *MissingRateError.
	ErrMissingRate = errors.New("missing decay rate")

	// ErrInvalidHorizon means the horizon precedes the initial year.
	ErrInvalidHorizon = errors.New("calculation horizon precedes initial year")
)

// MissingRateError reports a material that has a ratio but no decay rate.
type MissingRateError struct {
	Material string
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no decay rate for material %q", e.Material)
}

// Is matches ErrMissingRate.
func (e *MissingRateError) Is(target error) bool {
	return target == ErrMissingRate
}

// SameYearPolicy decides what waste contributes in the year it is deposited
// (vintage age zero).
type SameYearPolicy int

const (
	// SameYearReduced evaluates the decay term at age zero,
	// exp(k) - 1.
	SameYearReduced SameYearPolicy = iota
	// SameYearNone contributes nothing until the year after deposit.
	SameYearNone
)

func (p SameYearPolicy) String() string {
	switch p {
	case SameYearReduced:
		return "reduced"
	case SameYearNone:
		return "none"
	default:
		return fmt.Sprintf("SameYearPolicy(%d)", int(p))
	}
}

// AcceptanceSource returns tons accepted in a calendar year. Years with no
// record return 0.
type AcceptanceSource interface {
	At(year int) float64
}

// RatioSource returns the fraction of material in waste deposited during a
// calendar year.
type RatioSource interface {
	Ratio(material string, year int) float64
}

// EfficiencySource returns the gas collection efficiency for an operation
// year.
type EfficiencySource interface {
	At(operationYear int) float64
}

// Inputs is everything one model run needs.
type Inputs struct {
	// InitialYear is the first calendar year with recorded acceptance.
	InitialYear int
	// Horizon is the calendar year the calculation stops at; operation
	// years run over [0, Horizon-InitialYear).
	Horizon int

	// Materials fixes the output column order.
	Materials  []string
	DecayRates map[string]float64

	Acceptance AcceptanceSource
	Ratios     RatioSource
	Collection EfficiencySource

	MethaneCorrectionFactor         float64
	DegradableOrganicCarbon         float64
	DegradableOrganicCarbonFraction float64
	MethaneContent                  float64
	OxidationFraction               float64

	SameYear SameYearPolicy
	Unit     string
}

// Years returns the number of operation years, T.
func (in Inputs) Years() int {
	return in.Horizon - in.InitialYear
}

// decayTerm is exp(-k(age-1)) - exp(-k*age).
func decayTerm(k float64, age int, policy SameYearPolicy) float64 {
	if age == 0 && policy == SameYearNone {
		return 0
	}
	a := float64(age)
	return math.Exp(-k*(a-1)) - math.Exp(-k*a)
}

// Calculate runs the model. The returned Table is complete and is not
// modified afterwards.
func Calculate(in Inputs) (*Table, error) {
	for _, m := range in.Materials {
		if _, ok := in.DecayRates[m]; !ok {
			return nil, &MissingRateError{Material: m}
		}
	}
	T := in.Years()
	if T < 0 {
		return nil, fmt.Errorf("%w: horizon %d, initial year %d", ErrInvalidHorizon, in.Horizon, in.InitialYear)
	}
	if in.Acceptance == nil || in.Ratios == nil || in.Collection == nil {
		return nil, errors.New("emissions: acceptance, ratio and collection sources are required")
	}

	base := in.MethaneCorrectionFactor *
		in.DegradableOrganicCarbon *
		in.DegradableOrganicCarbonFraction *
		in.MethaneContent *
		MethaneToCarbon

	nm := len(in.Materials)
	t := &Table{
		materials:   append([]string(nil), in.Materials...),
		unit:        in.Unit,
		initialYear: in.InitialYear,
		rows:        make([]Row, T),
		vintages:    make([][][]float64, T),
	}

	// Deposited mass per vintage and material does not depend on the
	// operation year, so it is computed once.
	deposited := make([][]float64, T)
	for v := 0; v < T; v++ {
		year := in.InitialYear + v
		a := in.Acceptance.At(year)
		deposited[v] = make([]float64, nm)
		for i, m := range in.Materials {
			deposited[v][i] = in.Ratios.Ratio(m, year) * a * base
		}
	}

	for y := 0; y < T; y++ {
		row := Row{
			Year:          in.InitialYear + y,
			OperationYear: y,
			Generated:     make([]float64, nm),
			Captured:      make([]float64, nm),
			Emitted:       make([]float64, nm),
		}
		eff := in.Collection.At(y)
		t.vintages[y] = make([][]float64, nm)

		for i, m := range in.Materials {
			k := in.DecayRates[m]
			contrib := make([]float64, y+1)
			for v := 0; v <= y; v++ {
				contrib[v] = deposited[v][i] * decayTerm(k, y-v, in.SameYear)
			}
			gen := floats.Sum(contrib)
			captured := gen * eff

			row.Generated[i] = gen
			row.Captured[i] = captured
			row.Emitted[i] = (gen - captured) * (1 - in.OxidationFraction)
			t.vintages[y][i] = contrib
		}
		t.rows[y] = row
	}
	return t, nil
}
