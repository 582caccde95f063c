package refdata

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// CSV column indices for warm_decay_rates.csv.
const (
	colMaterial = 0 // Material
	colMoisture = 1 // Landfill_Moisture_Conditions
	colRate     = 2 // Decay_Rate
)

// Conventional bounds for a first-order decay constant, in 1/yr. Both
// bounds are exclusive.
const (
	MinDecayRate = 0.0
	MaxDecayRate = 0.5
)

//go:embed data/warm_decay_rates.csv
var decayRatesCSV string

// DecayRates maps a material name to its first-order decay constant k.
type DecayRates map[string]float64

// Rate returns the decay constant for material.
func (d DecayRates) Rate(material string) (float64, bool) {
	k, ok := d[material]
	return k, ok
}

// Materials returns the material names in sorted order.
func (d DecayRates) Materials() []string {
	out := make([]string, 0, len(d))
	for m := range d {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

var (
	decayRates      map[MoistureCondition]DecayRates
	decayRateIssues []string
	decayRatesOnce  sync.Once
)

// parseDecayRates loads the embedded table into decayRates. Rows with an
// unknown moisture label or an unparseable rate are skipped and recorded.
func parseDecayRates() {
	decayRates = make(map[MoistureCondition]DecayRates, len(MoistureConditions))
	decayRateIssues = nil

	reader := csv.NewReader(strings.NewReader(decayRatesCSV))

	// Skip header row
	if _, err := reader.Read(); err != nil {
		log().Error().Err(err).Msg("failed to read decay rate CSV header")
		decayRateIssues = append(decayRateIssues, fmt.Sprintf("header: %v", err))
		return
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			decayRateIssues = append(decayRateIssues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(record) <= colRate {
			decayRateIssues = append(decayRateIssues, fmt.Sprintf("line %d: expected 3 columns, got %d", line, len(record)))
			continue
		}

		material := strings.TrimSpace(record[colMaterial])
		if material == "" {
			decayRateIssues = append(decayRateIssues, fmt.Sprintf("line %d: empty material", line))
			continue
		}

		moisture, err := ParseMoistureCondition(record[colMoisture])
		if err != nil {
			log().Warn().Int("line", line).Err(err).Msg("skipping decay rate row")
			decayRateIssues = append(decayRateIssues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		k, err := strconv.ParseFloat(strings.TrimSpace(record[colRate]), 64)
		if err != nil {
			log().Warn().Int("line", line).Str("material", material).Err(err).Msg("skipping decay rate row")
			decayRateIssues = append(decayRateIssues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		if decayRates[moisture] == nil {
			decayRates[moisture] = make(DecayRates)
		}
		if _, dup := decayRates[moisture][material]; dup {
			decayRateIssues = append(decayRateIssues,
				fmt.Sprintf("line %d: duplicate rate for %s / %s", line, material, moisture))
		}
		decayRates[moisture][material] = k
	}
}

// DefaultDecayRates returns a copy of the default table column for the
// given moisture condition.
func DefaultDecayRates(moisture MoistureCondition) (DecayRates, error) {
	if !moisture.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMoistureCondition, moisture)
	}
	decayRatesOnce.Do(parseDecayRates)

	src := decayRates[moisture]
	out := make(DecayRates, len(src))
	for m, k := range src {
		out[m] = k
	}
	return out, nil
}

// DecayRateCount reports the number of (material, moisture) pairs loaded.
func DecayRateCount() int {
	decayRatesOnce.Do(parseDecayRates)
	n := 0
	for _, rates := range decayRates {
		n += len(rates)
	}
	return n
}

// ValidDecayRate reports whether k lies strictly inside the conventional
// range.
func ValidDecayRate(k float64) bool {
	return k > MinDecayRate && k < MaxDecayRate
}
