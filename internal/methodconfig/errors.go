package methodconfig

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	// ErrConfigNotFound means a method document or include target was not
	// present in any search root.
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrTypeMismatch means an include directive tried to merge values of
	// different kinds (mapping into sequence, and so on).
	ErrTypeMismatch = errors.New("include type mismatch")

	// ErrIncludeKeyNotFound means a key on an include narrowing path was
	// absent from the included document.
	ErrIncludeKeyNotFound = errors.New("include key not found")

	// ErrCyclicInclusion means a document included itself, directly or
	// through other documents, or inclusion nested past MaxIncludeDepth.
	ErrCyclicInclusion = errors.New("cyclic inclusion")

	// ErrNoHorizon means none of calc_year, landfill_close or
	// landfill_lifespan was set.
	ErrNoHorizon = errors.New("no calculation horizon: set calc_year, landfill_close or landfill_lifespan")

	// ErrMissingParameter means a required method parameter was absent.
	ErrMissingParameter = errors.New("missing method parameter")

	// ErrInvalidParameter means a method parameter was present but unusable.
	ErrInvalidParameter = errors.New("invalid method parameter")

	// ErrDecayRateOutOfRange means a decay constant lies outside (0, 0.5).
	ErrDecayRateOutOfRange = errors.New("decay rate outside conventional range")
)

// NotFoundError reports a document that could not be located.
type NotFoundError struct {
	// File is the document name that was looked up.
	File string
	// Searched lists the roots that were tried, in order.
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in [%s]", e.File, strings.Join(e.Searched, ", "))
}

// Is matches ErrConfigNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrConfigNotFound
}

// TypeMismatchError reports an include whose target kind disagrees with the
// host node kind.
type TypeMismatchError struct {
	Directive string
	Host      string
	Included  string
	Line      int
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("line %d: !include:%s: cannot merge %s into %s",
		e.Line, e.Directive, e.Included, e.Host)
}

// Is matches ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// CyclicInclusionError reports the include chain that re-entered itself.
type CyclicInclusionError struct {
	Chain []string
}

func (e *CyclicInclusionError) Error() string {
	return fmt.Sprintf("cyclic inclusion: %s", strings.Join(e.Chain, " -> "))
}

// Is matches ErrCyclicInclusion.
func (e *CyclicInclusionError) Is(target error) bool {
	return target == ErrCyclicInclusion
}
