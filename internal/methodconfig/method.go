package methodconfig

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rshade/lfgcalc/internal/refdata"
	"github.com/rshade/lfgcalc/internal/timeseries"
)

// DefaultBulkMaterial names the single material used when a method gives a
// bulk decay constant k instead of material ratios.
const DefaultBulkMaterial = "MSW"

// Same-year decay settings accepted in same_year_decay.
const (
	SameYearDecayReduced = "reduced"
	SameYearDecayNone    = "none"
)

// Ratio is the fraction of the waste stream made up of one material.
type Ratio struct {
	Material string
	Fraction float64
}

// Ratios is an ordered material -> fraction mapping.
type Ratios []Ratio

// UnmarshalYAML decodes a mapping while keeping document order.
func (r *Ratios) UnmarshalYAML(node *yaml.Node) error {
	node = deref(node)
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: material ratios must be a mapping", node.Line)
	}
	out := make(Ratios, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var f float64
		if err := node.Content[i+1].Decode(&f); err != nil {
			return fmt.Errorf("material %q: %w", node.Content[i].Value, err)
		}
		out = append(out, Ratio{Material: node.Content[i].Value, Fraction: f})
	}
	*r = out
	return nil
}

// Get returns the fraction for material, or 0 when it is not listed.
func (r Ratios) Get(material string) float64 {
	for _, x := range r {
		if x.Material == material {
			return x.Fraction
		}
	}
	return 0
}

// Sum returns the total of all fractions.
func (r Ratios) Sum() float64 {
	var s float64
	for _, x := range r {
		s += x.Fraction
	}
	return s
}

// MaterialRatios holds either a single ratio set for every year or a
// year-keyed sequence of ratio sets.
type MaterialRatios struct {
	Flat   Ratios
	ByYear timeseries.Sparse[Ratios]
}

// UnmarshalYAML accepts both a flat material mapping and a mapping whose
// keys are all years or year ranges.
func (m *MaterialRatios) UnmarshalYAML(node *yaml.Node) error {
	node = deref(node)
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: material_ratios must be a mapping", node.Line)
	}
	yearKeyed := len(node.Content) > 0
	for i := 0; i+1 < len(node.Content); i += 2 {
		if !timeseries.IsYearKey(node.Content[i].Value) || deref(node.Content[i+1]).Kind != yaml.MappingNode {
			yearKeyed = false
			break
		}
	}
	if yearKeyed {
		return node.Decode(&m.ByYear)
	}
	return node.Decode(&m.Flat)
}

// IsZero reports whether no ratios were given.
func (m MaterialRatios) IsZero() bool {
	return len(m.Flat) == 0 && len(m.ByYear) == 0
}

// Materials lists every material in first-appearance order.
func (m MaterialRatios) Materials() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(rs Ratios) {
		for _, r := range rs {
			if !seen[r.Material] {
				seen[r.Material] = true
				out = append(out, r.Material)
			}
		}
	}
	add(m.Flat)
	for _, e := range m.ByYear {
		add(e.Value)
	}
	return out
}

// Method is a decoded method document.
type Method struct {
	Name string `yaml:"-"`

	WasteAcceptanceRate timeseries.Sparse[float64] `yaml:"waste_acceptance_rate"`
	MaterialRatios      MaterialRatios             `yaml:"material_ratios"`
	MaterialDecayRates  map[string]float64         `yaml:"material_decay_rates"`
	MoistureConditions  *refdata.MoistureCondition `yaml:"moisture_conditions"`
	DefaultDecayRates   string                     `yaml:"default_decay_rates"`

	// K and BulkMaterialName describe single-rate methods.
	K                *float64 `yaml:"k"`
	BulkMaterialName string   `yaml:"bulk_material_name"`

	MethaneCorrectionFactor         *float64 `yaml:"methane_correction_factor"`
	MethaneFraction                 *float64 `yaml:"methane_fraction"`
	DegradableOrganicCarbon         *float64 `yaml:"degradable_organic_carbon"`
	DegradableOrganicCarbonFraction *float64 `yaml:"degradable_organic_carbon_fraction"`
	MethaneContent                  *float64 `yaml:"methane_content"`
	MethaneOxidationFraction        *float64 `yaml:"methane_oxidation_fraction"`

	LFGRecovery           *bool                       `yaml:"LFG_recovery"`
	LFGCollectionScenario *refdata.CollectionScenario `yaml:"LFG_collection_scenario"`

	CalcYear         *int     `yaml:"calc_year"`
	LandfillClose    *int     `yaml:"landfill_close"`
	LandfillLifespan *int     `yaml:"landfill_lifespan"`
	LandfillCapacity *float64 `yaml:"landfill_capacity"`

	Unit                 string `yaml:"unit"`
	SameYearDecay        string `yaml:"same_year_decay"`
	StrictMaterialRatios bool   `yaml:"strict_material_ratios"`
}

// Decode converts a resolved document into a Method and validates it.
func Decode(name string, node *yaml.Node) (*Method, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: %s: empty document", ErrInvalidParameter, name)
	}
	if n := deref(node); n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: top level must be a mapping, got %s", ErrInvalidParameter, name, kindName(n.Kind))
	}
	m := &Method{}
	if err := node.Decode(m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	m.Name = name
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// MCF returns the methane correction factor, falling back to the legacy
// methane_fraction key.
func (m *Method) MCF() float64 {
	if m.MethaneCorrectionFactor != nil {
		return *m.MethaneCorrectionFactor
	}
	if m.MethaneFraction != nil {
		return *m.MethaneFraction
	}
	return 0
}

// BulkMaterial returns the material name used in single-rate mode.
func (m *Method) BulkMaterial() string {
	if m.BulkMaterialName != "" {
		return m.BulkMaterialName
	}
	return DefaultBulkMaterial
}

// SingleRate reports whether the method uses one bulk decay constant.
func (m *Method) SingleRate() bool {
	return m.MaterialRatios.IsZero() && m.K != nil
}

// RecoveryEnabled reports whether landfill gas is collected at all.
func (m *Method) RecoveryEnabled() bool {
	return m.LFGRecovery == nil || *m.LFGRecovery
}

// Horizon returns the calendar year at which the calculation stops,
// preferring calc_year, then landfill_close, then initialYear plus
// landfill_lifespan.
func (m *Method) Horizon(initialYear int) (int, error) {
	switch {
	case m.CalcYear != nil:
		return *m.CalcYear, nil
	case m.LandfillClose != nil:
		return *m.LandfillClose, nil
	case m.LandfillLifespan != nil:
		return initialYear + *m.LandfillLifespan, nil
	default:
		return 0, ErrNoHorizon
	}
}

// Validate checks presence and range of every parameter the model needs.
func (m *Method) Validate() error {
	if len(m.WasteAcceptanceRate) == 0 {
		return fmt.Errorf("%w: waste_acceptance_rate", ErrMissingParameter)
	}
	for _, e := range m.WasteAcceptanceRate {
		if _, _, err := timeseries.ParseYearKey(e.Key); err != nil {
			return fmt.Errorf("waste_acceptance_rate: %w", err)
		}
		if e.Value < 0 {
			return fmt.Errorf("%w: waste_acceptance_rate %s is negative", ErrInvalidParameter, e.Key)
		}
	}

	if m.CalcYear == nil && m.LandfillClose == nil && m.LandfillLifespan == nil {
		return ErrNoHorizon
	}
	if m.LandfillLifespan != nil && *m.LandfillLifespan < 0 {
		return fmt.Errorf("%w: landfill_lifespan %d is negative", ErrInvalidParameter, *m.LandfillLifespan)
	}

	if m.MethaneCorrectionFactor == nil && m.MethaneFraction == nil {
		return fmt.Errorf("%w: methane_correction_factor", ErrMissingParameter)
	}
	fractions := []struct {
		key      string
		v        *float64
		required bool
	}{
		{"methane_correction_factor", m.MethaneCorrectionFactor, false},
		{"methane_fraction", m.MethaneFraction, false},
		{"degradable_organic_carbon", m.DegradableOrganicCarbon, true},
		{"degradable_organic_carbon_fraction", m.DegradableOrganicCarbonFraction, true},
		{"methane_content", m.MethaneContent, true},
		{"methane_oxidation_fraction", m.MethaneOxidationFraction, true},
	}
	for _, f := range fractions {
		if f.v == nil {
			if f.required {
				return fmt.Errorf("%w: %s", ErrMissingParameter, f.key)
			}
			continue
		}
		if *f.v < 0 || *f.v > 1 {
			return fmt.Errorf("%w: %s %g outside [0, 1]", ErrInvalidParameter, f.key, *f.v)
		}
	}

	if err := m.validateMaterials(); err != nil {
		return err
	}

	if m.RecoveryEnabled() && m.LFGCollectionScenario == nil {
		return fmt.Errorf("%w: LFG_collection_scenario (or set LFG_recovery: false)", ErrMissingParameter)
	}

	if m.LandfillCapacity != nil && *m.LandfillCapacity <= 0 {
		return fmt.Errorf("%w: landfill_capacity must be positive", ErrInvalidParameter)
	}

	switch strings.ToLower(m.SameYearDecay) {
	case "", SameYearDecayReduced, SameYearDecayNone:
	default:
		return fmt.Errorf("%w: same_year_decay %q (want %q or %q)",
			ErrInvalidParameter, m.SameYearDecay, SameYearDecayReduced, SameYearDecayNone)
	}
	return nil
}

func (m *Method) validateMaterials() error {
	if m.MaterialRatios.IsZero() {
		if m.K == nil {
			return fmt.Errorf("%w: material_ratios (or a bulk k)", ErrMissingParameter)
		}
		if !refdata.ValidDecayRate(*m.K) {
			return fmt.Errorf("%w: k = %g", ErrDecayRateOutOfRange, *m.K)
		}
		return nil
	}

	check := func(rs Ratios, where string) error {
		for _, r := range rs {
			if r.Fraction < 0 || r.Fraction > 1 {
				return fmt.Errorf("%w: material_ratios%s %s = %g outside [0, 1]",
					ErrInvalidParameter, where, r.Material, r.Fraction)
			}
		}
		return nil
	}
	if err := check(m.MaterialRatios.Flat, ""); err != nil {
		return err
	}
	for _, e := range m.MaterialRatios.ByYear {
		if err := check(e.Value, "["+e.Key+"]"); err != nil {
			return err
		}
	}

	for material, k := range m.MaterialDecayRates {
		if !refdata.ValidDecayRate(k) {
			return fmt.Errorf("%w: %s k = %g", ErrDecayRateOutOfRange, material, k)
		}
	}
	if m.MaterialDecayRates == nil && m.MoistureConditions == nil {
		return fmt.Errorf("%w: material_decay_rates or moisture_conditions", ErrMissingParameter)
	}
	switch strings.ToLower(m.DefaultDecayRates) {
	case "", "warm", "barlaz":
	default:
		return fmt.Errorf("%w: default_decay_rates %q (only the WARM/Barlaz table is available)",
			ErrInvalidParameter, m.DefaultDecayRates)
	}
	return nil
}
