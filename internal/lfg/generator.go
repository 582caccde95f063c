package lfg

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rshade/lfgcalc/internal/emissions"
	"github.com/rshade/lfgcalc/internal/methodconfig"
)

// Generator runs a method end to end: resolve, decode, expand, calculate.
type Generator struct {
	resolver *methodconfig.Resolver
	logger   zerolog.Logger
}

// NewGenerator returns a Generator that reads methods through resolver.
func NewGenerator(resolver *methodconfig.Resolver, logger zerolog.Logger) *Generator {
	return &Generator{
		resolver: resolver,
		logger:   logger.With().Str("component", "lfg").Logger(),
	}
}

// Method resolves and decodes the named method.
func (g *Generator) Method(name string) (*methodconfig.Method, error) {
	node, err := g.resolver.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("resolving configuration: %w", err)
	}
	canonical, _ := methodconfig.CanonicalName(name)
	m, err := methodconfig.Decode(canonical, node)
	if err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return m, nil
}

// ResolvedConfig returns the fully merged method document as YAML.
func (g *Generator) ResolvedConfig(name string) ([]byte, error) {
	node, err := g.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(node)
}

// Generate computes the emissions table for the named method. ctx is
// checked once before the numeric pass; the calculation itself is not
// interruptible.
func (g *Generator) Generate(ctx context.Context, name string) (*emissions.Table, error) {
	start := time.Now()
	g.logger.Info().Str("method", name).Msg("beginning generation")

	m, err := g.Method(name)
	if err != nil {
		return nil, err
	}
	in, err := BuildInputs(m, g.logger)
	if err != nil {
		return nil, fmt.Errorf("building model inputs: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table, err := emissions.Calculate(in)
	if err != nil {
		return nil, fmt.Errorf("calculating emissions: %w", err)
	}

	g.logger.Info().
		Str("method", m.Name).
		Int("operation_years", table.Len()).
		Dur("duration", time.Since(start)).
		Msg("generation complete")
	return table, nil
}
