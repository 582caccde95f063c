package refdata

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTable is returned by Validate when an embedded table is
// incomplete or out of range.
var ErrInvalidTable = errors.New("invalid reference table")

// Validate checks both embedded tables for completeness and range:
// every material has a rate for every moisture condition, every rate lies in
// (MinDecayRate, MaxDecayRate), every scenario covers years 0..MaxScheduleYear,
// and every efficiency lies in [0,1].
func Validate() error {
	decayRatesOnce.Do(parseDecayRates)
	schedulesOnce.Do(parseSchedules)

	var errs []error
	for _, issue := range decayRateIssues {
		errs = append(errs, fmt.Errorf("%w: decay rates: %s", ErrInvalidTable, issue))
	}
	for _, issue := range scheduleIssues {
		errs = append(errs, fmt.Errorf("%w: collection: %s", ErrInvalidTable, issue))
	}

	materials := make(map[string]bool)
	for _, rates := range decayRates {
		for m := range rates {
			materials[m] = true
		}
	}
	names := make([]string, 0, len(materials))
	for m := range materials {
		names = append(names, m)
	}
	sort.Strings(names)

	for _, moisture := range MoistureConditions {
		rates := decayRates[moisture]
		for _, m := range names {
			k, ok := rates[m]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s has no %s rate", ErrInvalidTable, m, moisture))
				continue
			}
			if !ValidDecayRate(k) {
				errs = append(errs, fmt.Errorf("%w: %s / %s rate %g outside (%g, %g)",
					ErrInvalidTable, m, moisture, k, MinDecayRate, MaxDecayRate))
			}
		}
	}

	for _, scenario := range CollectionScenarios {
		years := scheduleYears[scenario]
		s := schedules[scenario]
		for y := 0; y <= MaxScheduleYear; y++ {
			if !years[y] {
				errs = append(errs, fmt.Errorf("%w: %s missing year %d", ErrInvalidTable, scenario, y))
				continue
			}
			if e := s.At(y); e < 0 || e > 1 {
				errs = append(errs, fmt.Errorf("%w: %s year %d efficiency %g outside [0, 1]",
					ErrInvalidTable, scenario, y, e))
			}
		}
	}

	return errors.Join(errs...)
}
