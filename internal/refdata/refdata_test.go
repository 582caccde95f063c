package refdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseMoistureCondition(t *testing.T) {
	tests := []struct {
		input string
		want  MoistureCondition
	}{
		{input: "Dry", want: MoistureDry},
		{input: "moderate", want: MoistureModerate},
		{input: " Wet ", want: MoistureWet},
		{input: "Bioreactor", want: MoistureBioreactor},
		{input: "National Average", want: MoistureNationalAverage},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMoistureCondition(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMoistureCondition_Invalid(t *testing.T) {
	for _, input := range []string{"", "Damp", "national"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseMoistureCondition(input)
			assert.ErrorIs(t, err, ErrInvalidMoistureCondition)
		})
	}
}

func TestParseCollectionScenario(t *testing.T) {
	tests := []struct {
		input string
		want  CollectionScenario
	}{
		{input: "Typical operation", want: ScenarioTypical},
		{input: "typical", want: ScenarioTypical},
		{input: "Worst-case collection", want: ScenarioWorstCase},
		{input: "Worst case", want: ScenarioWorstCase},
		{input: "Aggressive gas collection", want: ScenarioAggressive},
		{input: "California", want: ScenarioCalifornia},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCollectionScenario(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseCollectionScenario("Best effort")
	assert.ErrorIs(t, err, ErrInvalidCollectionScenario)
}

func TestEnumsRoundTripLabels(t *testing.T) {
	for _, m := range MoistureConditions {
		got, err := ParseMoistureCondition(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	for _, c := range CollectionScenarios {
		got, err := ParseCollectionScenario(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	assert.False(t, MoistureCondition(0).Valid())
	assert.False(t, CollectionScenario(99).Valid())
}

func TestEnums_UnmarshalYAML(t *testing.T) {
	var doc struct {
		Moisture MoistureCondition  `yaml:"moisture_conditions"`
		Scenario CollectionScenario `yaml:"LFG_collection_scenario"`
	}
	err := yaml.Unmarshal([]byte("moisture_conditions: Wet\nLFG_collection_scenario: Typical operation\n"), &doc)
	require.NoError(t, err)
	assert.Equal(t, MoistureWet, doc.Moisture)
	assert.Equal(t, ScenarioTypical, doc.Scenario)

	err = yaml.Unmarshal([]byte("moisture_conditions: Soggy\n"), &doc)
	assert.ErrorIs(t, err, ErrInvalidMoistureCondition)
}

func TestDefaultDecayRates(t *testing.T) {
	rates, err := DefaultDecayRates(MoistureModerate)
	require.NoError(t, err)

	k, ok := rates.Rate("Food Waste")
	require.True(t, ok, "Food Waste should have a moderate-moisture rate")
	assert.InDelta(t, 0.14, k, 1e-12)

	_, ok = rates.Rate("Unobtainium")
	assert.False(t, ok)

	assert.Contains(t, rates.Materials(), "Mixed MSW")
}

func TestDefaultDecayRates_ReturnsCopy(t *testing.T) {
	first, err := DefaultDecayRates(MoistureWet)
	require.NoError(t, err)
	first["Food Waste"] = 0.49

	second, err := DefaultDecayRates(MoistureWet)
	require.NoError(t, err)
	assert.NotEqual(t, 0.49, second["Food Waste"])
}

func TestDefaultDecayRates_InvalidMoisture(t *testing.T) {
	_, err := DefaultDecayRates(MoistureCondition(0))
	assert.ErrorIs(t, err, ErrInvalidMoistureCondition)
}

func TestDecayRateCount(t *testing.T) {
	// 16 materials x 5 moisture conditions
	assert.Equal(t, 80, DecayRateCount())
}

func TestCollectionSchedule_FlatExtension(t *testing.T) {
	for _, scenario := range CollectionScenarios {
		t.Run(scenario.String(), func(t *testing.T) {
			s, err := CollectionSchedule(scenario)
			require.NoError(t, err)

			last := s.At(MaxScheduleYear)
			for _, y := range []int{16, 20, 50, 200} {
				assert.Equal(t, last, s.At(y), "year %d should reuse year %d", y, MaxScheduleYear)
			}
		})
	}
}

func TestCollectionSchedule_TypicalValues(t *testing.T) {
	s, err := CollectionSchedule(ScenarioTypical)
	require.NoError(t, err)

	assert.Equal(t, 0.0, s.At(0))
	assert.Equal(t, 0.5, s.At(2))
	assert.Equal(t, 0.825, s.At(15))
	assert.Equal(t, 0.0, s.At(-1))
}

func TestCollectionSchedule_Invalid(t *testing.T) {
	_, err := CollectionSchedule(CollectionScenario(0))
	assert.ErrorIs(t, err, ErrInvalidCollectionScenario)
}

func TestNewSchedule(t *testing.T) {
	s := NewSchedule(map[int]float64{0: 0.1, 15: 0.9, 16: 0.2, -3: 1})
	assert.Equal(t, 0.1, s.At(0))
	assert.Equal(t, 0.0, s.At(7))
	assert.Equal(t, 0.9, s.At(15))
	assert.Equal(t, 0.9, s.At(16), "year 16 entry is ignored in favor of the flat extension")

	none := NoCollection()
	assert.Equal(t, 0.0, none.At(3))
	assert.Equal(t, 0.0, none.At(40))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate())
}

func TestValidDecayRate(t *testing.T) {
	assert.True(t, ValidDecayRate(0.04))
	assert.False(t, ValidDecayRate(0))
	assert.False(t, ValidDecayRate(0.5))
	assert.False(t, ValidDecayRate(-0.1))
}
