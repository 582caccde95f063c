package refdata

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// CSV column indices for lfg_collection_scenarios.csv.
const (
	colScenario   = 0 // Scenario
	colYear       = 1 // Year
	colEfficiency = 2 // Efficiency
)

// MaxScheduleYear is the last operation year tabulated for every scenario.
// Later years reuse its value.
const MaxScheduleYear = 15

//go:embed data/lfg_collection_scenarios.csv
var collectionCSV string

// Schedule is a gas collection efficiency per landfill operation year.
type Schedule struct {
	efficiency [MaxScheduleYear + 1]float64
}

// NewSchedule builds a Schedule from explicit per-year efficiencies. Years
// outside 0..MaxScheduleYear are ignored; missing years are zero.
func NewSchedule(byYear map[int]float64) Schedule {
	var s Schedule
	for y, e := range byYear {
		if y >= 0 && y <= MaxScheduleYear {
			s.efficiency[y] = e
		}
	}
	return s
}

// NoCollection is the schedule for a landfill without gas recovery.
func NoCollection() Schedule {
	return Schedule{}
}

// At returns the collection efficiency for operation year y. Years past
// MaxScheduleYear take the MaxScheduleYear value; negative years collect
// nothing.
func (s Schedule) At(y int) float64 {
	switch {
	case y < 0:
		return 0
	case y > MaxScheduleYear:
		return s.efficiency[MaxScheduleYear]
	default:
		return s.efficiency[y]
	}
}

var (
	schedules      map[CollectionScenario]Schedule
	scheduleYears  map[CollectionScenario]map[int]bool
	scheduleIssues []string
	schedulesOnce  sync.Once
)

func parseSchedules() {
	schedules = make(map[CollectionScenario]Schedule, len(CollectionScenarios))
	scheduleYears = make(map[CollectionScenario]map[int]bool, len(CollectionScenarios))
	scheduleIssues = nil
	byScenario := make(map[CollectionScenario]map[int]float64, len(CollectionScenarios))
	defer func() {
		for scenario, byYear := range byScenario {
			schedules[scenario] = NewSchedule(byYear)
		}
	}()

	reader := csv.NewReader(strings.NewReader(collectionCSV))

	// Skip header row
	if _, err := reader.Read(); err != nil {
		log().Error().Err(err).Msg("failed to read collection scenario CSV header")
		scheduleIssues = append(scheduleIssues, fmt.Sprintf("header: %v", err))
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
			scheduleIssues = append(scheduleIssues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(record) <= colEfficiency {
			scheduleIssues = append(scheduleIssues, fmt.Sprintf("line %d: expected 3 columns, got %d", line, len(record)))
			continue
		}

		scenario, err := ParseCollectionScenario(record[colScenario])
		if err != nil {
			log().Warn().Int("line", line).Err(err).Msg("skipping collection row")
			scheduleIssues = append(scheduleIssues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		year, err := strconv.Atoi(strings.TrimSpace(record[colYear]))
		if err != nil || year < 0 || year > MaxScheduleYear {
			scheduleIssues = append(scheduleIssues,
				fmt.Sprintf("line %d: year %q outside 0..%d", line, record[colYear], MaxScheduleYear))
			continue
		}

		eff, err := strconv.ParseFloat(strings.TrimSpace(record[colEfficiency]), 64)
		if err != nil {
			log().Warn().Int("line", line).Err(err).Msg("skipping collection row")
			scheduleIssues = append(scheduleIssues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		if byScenario[scenario] == nil {
			byScenario[scenario] = make(map[int]float64, MaxScheduleYear+1)
			scheduleYears[scenario] = make(map[int]bool, MaxScheduleYear+1)
		}
		byScenario[scenario][year] = eff
		scheduleYears[scenario][year] = true
	}
}

// CollectionSchedule returns the efficiency schedule for scenario.
func CollectionSchedule(scenario CollectionScenario) (Schedule, error) {
	if !scenario.Valid() {
		return Schedule{}, fmt.Errorf("%w: %s", ErrInvalidCollectionScenario, scenario)
	}
	schedulesOnce.Do(parseSchedules)
	s, ok := schedules[scenario]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s has no rows in the collection table", ErrInvalidCollectionScenario, scenario)
	}
	return s, nil
}
