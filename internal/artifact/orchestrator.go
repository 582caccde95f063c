// Package artifact produces emissions artifacts on demand. A request is
// served from the local store when an intact copy exists, otherwise fetched
// from a remote bucket, otherwise generated from the method document and
// persisted for the next caller.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rshade/lfgcalc/internal/emissions"
	"github.com/rshade/lfgcalc/internal/methodconfig"
)

var (
	// ErrNotFound means an artifact file is absent from a store.
	ErrNotFound = errors.New("artifact not found")

	// ErrCorrupt means artifact files exist but cannot be parsed.
	ErrCorrupt = errors.New("artifact corrupt")

	// ErrLocked means the lock for a method could not be taken before the
	// context ended.
	ErrLocked = errors.New("artifact locked by another process")

	// ErrNoRemote means downloads are enabled but no remote is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrResolutionFailure means every permitted attempt failed.
	ErrResolutionFailure = errors.New("artifact resolution failed")

	// ErrInvalidName means a method name cannot be used as a file name.
	ErrInvalidName = errors.New("invalid method name")
)

// Attempt names.
const (
	AttemptLocal    = "local"
	AttemptRemote   = "remote"
	AttemptGenerate = "generate"
)

// Source says how a returned artifact came to be on disk.
type Source int

const (
	// Loaded artifacts already existed locally or were downloaded.
	Loaded Source = iota
	// Generated artifacts were computed by this call.
	Generated
)

func (s Source) String() string {
	if s == Generated {
		return "generated"
	}
	return "loaded"
}

// Artifact is a resolved emissions table and its metadata.
type Artifact struct {
	Name         string
	Table        *emissions.Table
	Metadata     Metadata
	Source       Source
	Attempt      string
	DataPath     string
	MetadataPath string
}

// AttemptError records why one attempt did not produce an artifact.
type AttemptError struct {
	Attempt string
	Err     error
}

func (e AttemptError) Error() string { return e.Attempt + ": " + e.Err.Error() }

func (e AttemptError) Unwrap() error { return e.Err }

// ResolutionError aggregates every failed attempt for one method. It
// matches ErrResolutionFailure and, through Unwrap, each attempt's error.
type ResolutionError struct {
	Method   string
	Attempts []AttemptError
}

func (e *ResolutionError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("%s: %s: %s", ErrResolutionFailure, e.Method, strings.Join(parts, "; "))
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolutionFailure
}

func (e *ResolutionError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// Generator computes the emissions table for a method.
type Generator interface {
	Generate(ctx context.Context, name string) (*emissions.Table, error)
}

// Fetcher downloads encoded artifact files.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (data, metaData []byte, err error)
}

// Policy selects which attempts follow a local miss.
type Policy struct {
	Download bool
	Generate bool
}

// DefaultPolicy generates on a local miss and does not download.
func DefaultPolicy() Policy {
	return Policy{Download: false, Generate: true}
}

// Config wires an Orchestrator.
type Config struct {
	Store     *LocalStore
	Generator Generator
	// Remote is consulted when Policy.Download is set. Optional.
	Remote Fetcher
	Policy Policy
	// MethodURLBase overrides DefaultMethodURLBase in metadata.
	MethodURLBase string
	Build         Build
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator resolves artifacts by trying local, remote and generate in
// that order.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
	group  singleflight.Group
}

// NewOrchestrator validates cfg and returns an Orchestrator.
func NewOrchestrator(cfg Config, logger zerolog.Logger) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("artifact: store is required")
	}
	if cfg.Policy.Generate && cfg.Generator == nil {
		return nil, errors.New("artifact: generation enabled without a generator")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Build == (Build{}) {
		cfg.Build = CurrentBuild()
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.With().Str("component", "artifact").Logger(),
	}, nil
}

type attemptFunc func(ctx context.Context, name string) (*Artifact, error)

type step struct {
	attempt string
	run     attemptFunc
}

// ResolveOrGenerate returns the artifact for method name, producing it if
// needed. Concurrent calls for the same name share one resolution.
func (o *Orchestrator) ResolveOrGenerate(ctx context.Context, name string) (*Artifact, error) {
	name = o.canonical(name)
	if err := ValidName(name); err != nil {
		return nil, err
	}

	steps := []step{{AttemptLocal, o.loadLocal}}
	if o.cfg.Policy.Download {
		steps = append(steps, step{AttemptRemote, o.download})
	}
	if o.cfg.Policy.Generate {
		steps = append(steps, step{AttemptGenerate, func(ctx context.Context, name string) (*Artifact, error) {
			return o.generate(ctx, name, false)
		}})
	}

	return o.shared(ctx, name, func(ctx context.Context) (*Artifact, error) {
		resErr := &ResolutionError{Method: name}
		for _, s := range steps {
			art, err := o.try(ctx, s.attempt, name, s.run)
			if err == nil {
				return art, nil
			}
			resErr.Attempts = append(resErr.Attempts, AttemptError{Attempt: s.attempt, Err: err})
			if ctx.Err() != nil {
				break
			}
		}
		return nil, resErr
	})
}

// Generate computes and persists the artifact for name even when a local
// copy exists.
func (o *Orchestrator) Generate(ctx context.Context, name string) (*Artifact, error) {
	name = o.canonical(name)
	if err := ValidName(name); err != nil {
		return nil, err
	}
	return o.shared(ctx, "generate:"+name, func(ctx context.Context) (*Artifact, error) {
		art, err := o.try(ctx, AttemptGenerate, name, func(ctx context.Context, name string) (*Artifact, error) {
			return o.generate(ctx, name, true)
		})
		if err != nil {
			return nil, &ResolutionError{Method: name, Attempts: []AttemptError{{Attempt: AttemptGenerate, Err: err}}}
		}
		return art, nil
	})
}

// shared runs fn once per key across concurrent callers, passing the
// context of the caller that runs it. A caller whose shared result failed
// only because another caller's context ended runs fn again under its own.
func (o *Orchestrator) shared(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (*Artifact, error),
) (*Artifact, error) {
	for {
		ran := false
		v, err, _ := o.group.Do(key, func() (any, error) {
			ran = true
			return fn(ctx)
		})
		if err == nil {
			return v.(*Artifact), nil
		}
		if ran || ctx.Err() != nil || !contextEnded(err) {
			return nil, err
		}
		o.logger.Debug().Str("key", key).Msg("shared resolution cancelled by another caller, retrying")
	}
}

func contextEnded(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) canonical(name string) string {
	canonical, _ := methodconfig.CanonicalName(name)
	return canonical
}

// try runs one attempt and logs a single event describing its outcome.
func (o *Orchestrator) try(ctx context.Context, attempt, name string, run attemptFunc) (*Artifact, error) {
	start := o.cfg.Now()
	art, err := run(ctx, name)

	var ev *zerolog.Event
	switch {
	case err == nil:
		ev = o.logger.Info().Str("outcome", art.Source.String()).Str("path", art.DataPath)
	case errors.Is(err, ErrNotFound):
		ev = o.logger.Info().Str("outcome", "miss")
	default:
		ev = o.logger.Warn().Str("outcome", "failed").Err(err)
	}
	ev.Str("attempt", attempt).
		Str("method", name).
		Dur("duration", o.cfg.Now().Sub(start)).
		Msg("artifact attempt finished")
	return art, err
}

func (o *Orchestrator) loadLocal(_ context.Context, name string) (*Artifact, error) {
	return o.readStore(name, Loaded, AttemptLocal)
}

func (o *Orchestrator) readStore(name string, source Source, attempt string) (*Artifact, error) {
	table, meta, err := o.cfg.Store.Load(name)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Name:         name,
		Table:        table,
		Metadata:     meta,
		Source:       source,
		Attempt:      attempt,
		DataPath:     o.cfg.Store.DataPath(name),
		MetadataPath: o.cfg.Store.MetadataPath(name),
	}, nil
}

// download fetches name from the remote, checks that both files parse and
// installs them in the local store.
func (o *Orchestrator) download(ctx context.Context, name string) (*Artifact, error) {
	if o.cfg.Remote == nil {
		return nil, ErrNoRemote
	}
	data, metaData, err := o.cfg.Remote.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	meta, err := DecodeMetadata(metaData)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", name, err)
	}
	if err := meta.Verify(data); err != nil {
		return nil, fmt.Errorf("remote %s.csv: %w", name, err)
	}
	if _, err := emissions.ReadCSVWithDefaults(bytes.NewReader(data), meta.Unit, meta.InitialYear); err != nil {
		return nil, fmt.Errorf("%w: remote %s.csv: %v", ErrCorrupt, name, err)
	}

	unlock, err := o.cfg.Store.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := o.cfg.Store.SaveRaw(name, data, metaData); err != nil {
		return nil, err
	}
	return o.readStore(name, Loaded, AttemptRemote)
}

// generate runs the model under the method's lock. Unless force is set, an
// artifact written by another process while this one waited is returned
// as is.
func (o *Orchestrator) generate(ctx context.Context, name string, force bool) (*Artifact, error) {
	unlock, err := o.cfg.Store.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !force {
		if art, err := o.readStore(name, Loaded, AttemptGenerate); err == nil {
			return art, nil
		}
	}

	table, err := o.cfg.Generator.Generate(ctx, name)
	if err != nil {
		return nil, err
	}
	meta := NewMetadata(name, table, o.cfg.Build, o.cfg.MethodURLBase, o.cfg.Now())
	if err := o.cfg.Store.Save(name, table, meta); err != nil {
		return nil, fmt.Errorf("saving %s: %w", name, err)
	}
	return o.readStore(name, Generated, AttemptGenerate)
}
