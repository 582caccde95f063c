// Package lfg connects method documents to the decay model: it resolves a
// method, expands its time series, looks up reference data and runs the
// emissions calculation.
package lfg

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rshade/lfgcalc/internal/emissions"
	"github.com/rshade/lfgcalc/internal/methodconfig"
	"github.com/rshade/lfgcalc/internal/refdata"
	"github.com/rshade/lfgcalc/internal/timeseries"
)

// RatioTolerance is how far material ratios may sum away from 1 before they
// are reported as unnormalized.
const RatioTolerance = 1e-6

var (
	// ErrCapacityExceeded means cumulative acceptance through the horizon
	// exceeds landfill_capacity.
	ErrCapacityExceeded = errors.New("landfill capacity exceeded")

	// ErrRatiosNotNormalized means material ratios do not sum to 1 and the
	// method asked for strict checking.
	ErrRatiosNotNormalized = errors.New("material ratios do not sum to 1")
)

type flatRatios methodconfig.Ratios

func (r flatRatios) Ratio(material string, _ int) float64 {
	return methodconfig.Ratios(r).Get(material)
}

type yearRatios map[int]methodconfig.Ratios

// Ratio returns 0 for years with no composition on record.
func (r yearRatios) Ratio(material string, year int) float64 {
	return r[year].Get(material)
}

// BuildInputs converts a validated method into model inputs.
func BuildInputs(m *methodconfig.Method, logger zerolog.Logger) (emissions.Inputs, error) {
	acceptance, err := timeseries.ExpandSeries(m.WasteAcceptanceRate)
	if err != nil {
		return emissions.Inputs{}, fmt.Errorf("waste_acceptance_rate: %w", err)
	}
	initial, err := acceptance.First()
	if err != nil {
		return emissions.Inputs{}, fmt.Errorf("waste_acceptance_rate: %w", err)
	}
	horizon, err := m.Horizon(initial)
	if err != nil {
		return emissions.Inputs{}, err
	}
	if horizon < initial {
		return emissions.Inputs{}, fmt.Errorf("%w: horizon %d precedes first acceptance year %d",
			methodconfig.ErrInvalidParameter, horizon, initial)
	}

	if last, err := acceptance.Last(); err == nil && last >= horizon {
		logger.Warn().
			Str("method", m.Name).
			Int("last_acceptance_year", last).
			Int("horizon", horizon).
			Msg("waste accepted in or after the horizon year is not modelled")
	}

	if m.LandfillCapacity != nil {
		total := acceptance.CumulativeThrough(horizon - 1)
		if total > *m.LandfillCapacity {
			return emissions.Inputs{}, fmt.Errorf("%w: %.0f accepted through %d, capacity %.0f",
				ErrCapacityExceeded, total, horizon-1, *m.LandfillCapacity)
		}
	}

	in := emissions.Inputs{
		InitialYear:                     initial,
		Horizon:                         horizon,
		Acceptance:                      acceptance,
		MethaneCorrectionFactor:         m.MCF(),
		DegradableOrganicCarbon:         deref(m.DegradableOrganicCarbon),
		DegradableOrganicCarbonFraction: deref(m.DegradableOrganicCarbonFraction),
		MethaneContent:                  deref(m.MethaneContent),
		OxidationFraction:               deref(m.MethaneOxidationFraction),
		Unit:                            m.Unit,
		SameYear:                        sameYearPolicy(m.SameYearDecay),
	}

	if m.SingleRate() {
		bulk := m.BulkMaterial()
		in.Materials = []string{bulk}
		in.Ratios = flatRatios{{Material: bulk, Fraction: 1}}
		in.DecayRates = map[string]float64{bulk: *m.K}
	} else {
		if err := buildMaterials(m, &in, logger); err != nil {
			return emissions.Inputs{}, err
		}
	}

	if m.RecoveryEnabled() {
		schedule, err := refdata.CollectionSchedule(*m.LFGCollectionScenario)
		if err != nil {
			return emissions.Inputs{}, err
		}
		in.Collection = schedule
	} else {
		in.Collection = refdata.NoCollection()
	}

	logger.Debug().
		Str("method", m.Name).
		Int("initial_year", initial).
		Int("horizon", horizon).
		Int("materials", len(in.Materials)).
		Str("same_year_decay", in.SameYear.String()).
		Msg("model inputs built")
	return in, nil
}

func buildMaterials(m *methodconfig.Method, in *emissions.Inputs, logger zerolog.Logger) error {
	in.Materials = m.MaterialRatios.Materials()

	if len(m.MaterialRatios.ByYear) > 0 {
		byYear, err := timeseries.Expand(m.MaterialRatios.ByYear)
		if err != nil {
			return fmt.Errorf("material_ratios: %w", err)
		}
		for _, e := range m.MaterialRatios.ByYear {
			if err := checkNormalized(e.Value, m, "material_ratios["+e.Key+"]", logger); err != nil {
				return err
			}
		}
		in.Ratios = yearRatios(byYear)
	} else {
		if err := checkNormalized(m.MaterialRatios.Flat, m, "material_ratios", logger); err != nil {
			return err
		}
		in.Ratios = flatRatios(m.MaterialRatios.Flat)
	}

	// An explicit override map replaces the default table entirely.
	var rates refdata.DecayRates
	if m.MaterialDecayRates != nil {
		rates = refdata.DecayRates(m.MaterialDecayRates)
	} else {
		var err error
		rates, err = refdata.DefaultDecayRates(*m.MoistureConditions)
		if err != nil {
			return err
		}
	}
	in.DecayRates = make(map[string]float64, len(in.Materials))
	for _, material := range in.Materials {
		if k, ok := rates.Rate(material); ok {
			in.DecayRates[material] = k
		}
	}
	return nil
}

func checkNormalized(rs methodconfig.Ratios, m *methodconfig.Method, where string, logger zerolog.Logger) error {
	sum := rs.Sum()
	if math.Abs(sum-1) <= RatioTolerance {
		return nil
	}
	if m.StrictMaterialRatios {
		return fmt.Errorf("%w: %s sums to %g", ErrRatiosNotNormalized, where, sum)
	}
	logger.Warn().
		Str("method", m.Name).
		Str("field", where).
		Float64("sum", sum).
		Msg("material ratios do not sum to 1; using them as given")
	return nil
}

func sameYearPolicy(s string) emissions.SameYearPolicy {
	if strings.EqualFold(s, methodconfig.SameYearDecayNone) {
		return emissions.SameYearNone
	}
	return emissions.SameYearReduced
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
