// Package main checks the embedded reference tables used by the decay model.
//
// It verifies that every material has a decay rate for every moisture
// condition, that rates lie in the conventional range, and that every
// collection scenario covers years 0 through 15 with efficiencies in [0,1].
// It then runs each built-in method once.
//
// Usage:
//
//	go run ./tools/validate-refdata [--methods=false] [--verbose]
//
// Flags:
//
//	--methods  Also generate every built-in method (default: true)
//	--verbose  Print each material's rates
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rshade/lfgcalc/internal/emissions"
	"github.com/rshade/lfgcalc/internal/lfg"
	"github.com/rshade/lfgcalc/internal/methodconfig"
	"github.com/rshade/lfgcalc/internal/refdata"
)

func main() {
	methods := flag.Bool("methods", true, "Also generate every built-in method")
	verbose := flag.Bool("verbose", false, "Print each material's decay rates")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	refdata.SetLogger(logger)

	fmt.Println("Validating embedded reference tables...")
	if err := refdata.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Decay rates: %d entries across %d moisture conditions\n",
		refdata.DecayRateCount(), len(refdata.MoistureConditions))
	fmt.Printf("Collection scenarios: %d (years 0-%d)\n",
		len(refdata.CollectionScenarios), refdata.MaxScheduleYear)

	if *verbose {
		printRates()
	}

	if *methods {
		if err := generateAll(logger); err != nil {
			fmt.Fprintf(os.Stderr, "Method error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Println("Validation passed")
}

func printRates() {
	for _, moisture := range refdata.MoistureConditions {
		rates, err := refdata.DefaultDecayRates(moisture)
		if err != nil {
			continue
		}
		fmt.Printf("\n%s\n", moisture)
		for _, material := range rates.Materials() {
			k, _ := rates.Rate(material)
			fmt.Printf("  %-40s %.3f\n", material, k)
		}
	}
	for _, scenario := range refdata.CollectionScenarios {
		schedule, err := refdata.CollectionSchedule(scenario)
		if err != nil {
			continue
		}
		parts := make([]string, 0, refdata.MaxScheduleYear+1)
		for y := 0; y <= refdata.MaxScheduleYear; y++ {
			parts = append(parts, fmt.Sprintf("%.3g", schedule.At(y)))
		}
		fmt.Printf("\n%s: %s\n", scenario, strings.Join(parts, " "))
	}
}

func generateAll(logger zerolog.Logger) error {
	resolver := methodconfig.NewResolver(nil, logger)
	names, err := resolver.Available()
	if err != nil {
		return err
	}
	gen := lfg.NewGenerator(resolver, logger)

	tables := make([]*emissions.Table, len(names))
	g, ctx := errgroup.WithContext(context.Background())
	for i, name := range names {
		g.Go(func() error {
			table, err := gen.Generate(ctx, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			tables[i] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, table := range tables {
		var total float64
		for _, rec := range table.Records() {
			total += rec.Emitted
		}
		fmt.Printf("  %-40s %3d years, %3d materials, %.1f %s emitted\n",
			names[i], table.Len(), len(table.Materials()), total, table.Unit())
	}
	return nil
}
