package refdata

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidMoistureCondition is returned for a moisture condition outside
// the closed set of table columns.
var ErrInvalidMoistureCondition = errors.New("invalid moisture condition")

// ErrInvalidCollectionScenario is returned for a collection scenario name
// outside the closed set of table rows.
var ErrInvalidCollectionScenario = errors.New("invalid collection scenario")

// MoistureCondition selects a column of the default decay-rate table.
type MoistureCondition int

// Moisture conditions. The zero value is deliberately invalid.
const (
	MoistureDry MoistureCondition = iota + 1
	MoistureModerate
	MoistureWet
	MoistureBioreactor
	MoistureNationalAverage
)

// MoistureConditions lists every valid moisture condition in table order.
var MoistureConditions = []MoistureCondition{
	MoistureDry,
	MoistureModerate,
	MoistureWet,
	MoistureBioreactor,
	MoistureNationalAverage,
}

func (m MoistureCondition) String() string {
	switch m {
	case MoistureDry:
		return "Dry"
	case MoistureModerate:
		return "Moderate"
	case MoistureWet:
		return "Wet"
	case MoistureBioreactor:
		return "Bioreactor"
	case MoistureNationalAverage:
		return "National Average"
	default:
		return fmt.Sprintf("MoistureCondition(%d)", int(m))
	}
}

// Valid reports whether m is one of the enumerated conditions.
func (m MoistureCondition) Valid() bool {
	return m >= MoistureDry && m <= MoistureNationalAverage
}

// ParseMoistureCondition maps a table label to its MoistureCondition.
// Matching ignores case and surrounding whitespace.
func ParseMoistureCondition(s string) (MoistureCondition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dry":
		return MoistureDry, nil
	case "moderate":
		return MoistureModerate, nil
	case "wet":
		return MoistureWet, nil
	case "bioreactor":
		return MoistureBioreactor, nil
	case "national average":
		return MoistureNationalAverage, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoistureCondition, s)
	}
}

// UnmarshalYAML decodes a moisture condition label.
func (m *MoistureCondition) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMoistureCondition(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = parsed
	return nil
}

// MarshalYAML encodes the moisture condition as its table label.
func (m MoistureCondition) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// CollectionScenario selects a landfill gas collection efficiency schedule.
type CollectionScenario int

// Collection scenarios. The zero value is deliberately invalid.
const (
	ScenarioTypical CollectionScenario = iota + 1
	ScenarioWorstCase
	ScenarioAggressive
	ScenarioCalifornia
)

// CollectionScenarios lists every valid scenario in table order.
var CollectionScenarios = []CollectionScenario{
	ScenarioTypical,
	ScenarioWorstCase,
	ScenarioAggressive,
	ScenarioCalifornia,
}

func (c CollectionScenario) String() string {
	switch c {
	case ScenarioTypical:
		return "Typical operation"
	case ScenarioWorstCase:
		return "Worst-case collection"
	case ScenarioAggressive:
		return "Aggressive gas collection"
	case ScenarioCalifornia:
		return "California regulatory collection"
	default:
		return fmt.Sprintf("CollectionScenario(%d)", int(c))
	}
}

// Valid reports whether c is one of the enumerated scenarios.
func (c CollectionScenario) Valid() bool {
	return c >= ScenarioTypical && c <= ScenarioCalifornia
}

// ParseCollectionScenario maps a scenario label to its CollectionScenario.
// Both the full table label and the short form ("Typical", "Worst-case",
// "Aggressive", "California") are accepted, ignoring case.
func ParseCollectionScenario(s string) (CollectionScenario, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "typical operation", "typical":
		return ScenarioTypical, nil
	case "worst-case collection", "worst-case", "worst case":
		return ScenarioWorstCase, nil
	case "aggressive gas collection", "aggressive":
		return ScenarioAggressive, nil
	case "california regulatory collection", "california":
		return ScenarioCalifornia, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCollectionScenario, s)
	}
}

// UnmarshalYAML decodes a collection scenario label.
func (c *CollectionScenario) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseCollectionScenario(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*c = parsed
	return nil
}

// MarshalYAML encodes the scenario as its table label.
func (c CollectionScenario) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}
