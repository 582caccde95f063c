package artifact

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rshade/lfgcalc/internal/emissions"
	"github.com/rshade/lfgcalc/internal/lfg"
	"github.com/rshade/lfgcalc/internal/methodconfig"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// gocloud registers opencensus views at init.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const exampleMethod = "Landfill_Example"

var testBuild = Build{Version: "v0.3.0", Commit: "0123456789abcdef0123456789abcdef01234567"}

type countingGenerator struct {
	inner Generator
	err   error
	calls atomic.Int32
}

func (g *countingGenerator) Generate(ctx context.Context, name string) (*emissions.Table, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return g.inner.Generate(ctx, name)
}

func newCountingGenerator() *countingGenerator {
	r := methodconfig.NewResolver(nil, zerolog.Nop())
	return &countingGenerator{inner: lfg.NewGenerator(r, zerolog.Nop())}
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = NewLocalStore(t.TempDir(), zerolog.Nop())
	}
	if cfg.Build == (Build{}) {
		cfg.Build = testBuild
	}
	o, err := NewOrchestrator(cfg, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func readFiles(t *testing.T, a *Artifact) (data, meta []byte) {
	t.Helper()
	data, err := os.ReadFile(a.DataPath)
	require.NoError(t, err)
	meta, err = os.ReadFile(a.MetadataPath)
	require.NoError(t, err)
	return data, meta
}

func TestResolveOrGenerate_GeneratesThenLoads(t *testing.T) {
	gen := newCountingGenerator()
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	o := newTestOrchestrator(t, Config{Store: store, Generator: gen, Policy: DefaultPolicy()})

	first, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Generated, first.Source)
	assert.Equal(t, AttemptGenerate, first.Attempt)
	assert.Equal(t, filepath.Join(store.Dir(), exampleMethod+".csv"), first.DataPath)
	assert.NoFileExists(t, store.lockPath(exampleMethod))

	assert.Equal(t, exampleMethod, first.Metadata.NameData)
	assert.Equal(t, "0123456", first.Metadata.GitHash)
	assert.Equal(t, "v0.3.0", first.Metadata.ToolVersion)
	assert.Equal(t,
		"https://github.com/USEPA/lfg-calc-py/blob/"+testBuild.Commit+"/lfg_calc_py/methods/Landfill_Example.yaml",
		first.Metadata.MethodURL)
	assert.NotEmpty(t, first.Metadata.RunID)
	assert.Equal(t, first.Table.Len(), first.Metadata.OperationYears)
	dataBefore, metaBefore := readFiles(t, first)

	second, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Loaded, second.Source)
	assert.Equal(t, AttemptLocal, second.Attempt)
	assert.Equal(t, int32(1), gen.calls.Load(), "an intact local artifact skips generation")
	assert.Equal(t, first.Table.Rows(), second.Table.Rows())

	dataAfter, metaAfter := readFiles(t, second)
	assert.Equal(t, dataBefore, dataAfter)
	assert.Equal(t, metaBefore, metaAfter)
}

func TestResolveOrGenerate_VersionedName(t *testing.T) {
	o := newTestOrchestrator(t, Config{Generator: newCountingGenerator(), Policy: DefaultPolicy()})

	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod+"_v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, exampleMethod, art.Name)
	assert.Equal(t, exampleMethod+".csv", filepath.Base(art.DataPath))
}

func TestResolveOrGenerate_ConcurrentCallsGenerateOnce(t *testing.T) {
	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Generator: gen, Policy: DefaultPolicy()})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.ResolveOrGenerate(context.Background(), exampleMethod)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestGenerate_ForcesRegeneration(t *testing.T) {
	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Generator: gen, Policy: DefaultPolicy()})

	first, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	again, err := o.Generate(context.Background(), exampleMethod)
	require.NoError(t, err)

	assert.Equal(t, Generated, again.Source)
	assert.Equal(t, int32(2), gen.calls.Load())
	assert.NotEqual(t, first.Metadata.RunID, again.Metadata.RunID)
	assert.Equal(t, first.Table.Rows(), again.Table.Rows())
}

func TestGenerate_FailureIsResolutionError(t *testing.T) {
	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Generator: gen, Policy: DefaultPolicy()})

	_, err := o.Generate(context.Background(), "No_Such_Method")
	require.ErrorIs(t, err, ErrResolutionFailure)
	assert.ErrorIs(t, err, methodconfig.ErrConfigNotFound)
}

func TestResolveOrGenerate_CorruptLocalIsRegenerated(t *testing.T) {
	gen := newCountingGenerator()
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, store.SaveRaw(exampleMethod, []byte("not,a,table\n"), []byte("{}")))

	o := newTestOrchestrator(t, Config{Store: store, Generator: gen, Policy: DefaultPolicy()})
	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Generated, art.Source)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestResolveOrGenerate_MissingMetadataIsAMiss(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, os.WriteFile(store.DataPath(exampleMethod), []byte("Year\n"), 0o644))

	o := newTestOrchestrator(t, Config{Store: store, Policy: Policy{}})
	_, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.ErrorIs(t, err, ErrResolutionFailure)
	assert.ErrorIs(t, err, ErrNotFound)
}

// publishExample generates the example artifact and uploads it to a
// file:// bucket, returning the bucket URL and the uploaded CSV.
func publishExample(t *testing.T) (string, []byte) {
	t.Helper()
	src := newTestOrchestrator(t, Config{Generator: newCountingGenerator(), Policy: DefaultPolicy()})
	art, err := src.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	data, meta := readFiles(t, art)

	url := "file://" + t.TempDir()
	remote, err := OpenRemote(context.Background(), url)
	require.NoError(t, err)
	defer remote.Close()
	require.NoError(t, remote.Publish(context.Background(), exampleMethod, data, meta))
	return url, data
}

func openTestRemote(t *testing.T, url string) *Remote {
	t.Helper()
	remote, err := OpenRemote(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })
	return remote
}

func TestResolveOrGenerate_DownloadsFromRemote(t *testing.T) {
	url, published := publishExample(t)
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	o := newTestOrchestrator(t, Config{
		Store:  store,
		Remote: openTestRemote(t, url),
		Policy: Policy{Download: true},
	})

	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Loaded, art.Source)
	assert.Equal(t, AttemptRemote, art.Attempt)

	data, _ := readFiles(t, art)
	assert.Equal(t, published, data)

	// The downloaded copy now satisfies local lookups.
	again, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, AttemptLocal, again.Attempt)
}

func TestResolveOrGenerate_CorruptRemoteFallsBackToGenerate(t *testing.T) {
	url := "file://" + t.TempDir()
	remote := openTestRemote(t, url)
	require.NoError(t, remote.Publish(context.Background(), exampleMethod, []byte("garbage"), []byte("{}")))

	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Generator: gen, Remote: remote, Policy: Policy{Download: true, Generate: true}})
	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Generated, art.Source)
}

func TestResolveOrGenerate_Policy(t *testing.T) {
	url, _ := publishExample(t)

	tests := []struct {
		name         string
		policy       Policy
		withRemote   bool
		wantAttempts []string
		wantErr      error
	}{
		{
			name:         "download disabled ignores remote",
			policy:       Policy{},
			withRemote:   true,
			wantAttempts: []string{AttemptLocal},
			wantErr:      ErrNotFound,
		},
		{
			name:         "download without remote",
			policy:       Policy{Download: true},
			wantAttempts: []string{AttemptLocal, AttemptRemote},
			wantErr:      ErrNoRemote,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Policy: tt.policy}
			if tt.withRemote {
				cfg.Remote = openTestRemote(t, url)
			}
			o := newTestOrchestrator(t, cfg)

			_, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
			require.ErrorIs(t, err, ErrResolutionFailure)
			assert.ErrorIs(t, err, tt.wantErr)

			var resErr *ResolutionError
			require.ErrorAs(t, err, &resErr)
			var attempts []string
			for _, a := range resErr.Attempts {
				attempts = append(attempts, a.Attempt)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestResolveOrGenerate_AllAttemptsFail(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	o := newTestOrchestrator(t, Config{
		Store:     store,
		Generator: newCountingGenerator(),
		Remote:    openTestRemote(t, "file://"+t.TempDir()),
		Policy:    Policy{Download: true, Generate: true},
	})

	_, err := o.ResolveOrGenerate(context.Background(), "No_Such_Method")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolutionFailure)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, methodconfig.ErrConfigNotFound)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "No_Such_Method", resErr.Method)
	require.Len(t, resErr.Attempts, 3)
	assert.Equal(t, AttemptGenerate, resErr.Attempts[2].Attempt)
	assert.Contains(t, err.Error(), "generate: resolving configuration")
	assert.NoFileExists(t, store.lockPath("No_Such_Method"), "lock released on failure")
}

func TestResolveOrGenerate_GeneratorErrorReleasesLock(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	boom := errors.New("boom")
	o := newTestOrchestrator(t, Config{
		Store:     store,
		Generator: &countingGenerator{err: boom},
		Policy:    DefaultPolicy(),
	})

	_, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, store.lockPath(exampleMethod))
	assert.NoFileExists(t, store.DataPath(exampleMethod))
}

func TestResolveOrGenerate_HeldLock(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, os.WriteFile(store.lockPath(exampleMethod), []byte("1"), 0o644))

	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Store: store, Generator: gen, Policy: DefaultPolicy()})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := o.ResolveOrGenerate(ctx, exampleMethod)
	require.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), gen.calls.Load())
	assert.FileExists(t, store.lockPath(exampleMethod), "a lock we do not own is left alone")
}

func TestResolveOrGenerate_StaleLockIsBroken(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zerolog.Nop()).WithStaleLockAge(time.Minute)
	lock := store.lockPath(exampleMethod)
	require.NoError(t, os.WriteFile(lock, []byte("1"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lock, old, old))

	o := newTestOrchestrator(t, Config{Store: store, Generator: newCountingGenerator(), Policy: DefaultPolicy()})
	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Generated, art.Source)
	assert.NoFileExists(t, lock)
}

func TestResolveOrGenerate_LogsEachAttempt(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Store:     NewLocalStore(t.TempDir(), zerolog.Nop()),
		Generator: newCountingGenerator(),
		Policy:    DefaultPolicy(),
		Build:     testBuild,
	}
	o, err := NewOrchestrator(cfg, zerolog.New(&buf))
	require.NoError(t, err)

	_, err = o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"attempt":"local"`)
	assert.Contains(t, out, `"outcome":"miss"`)
	assert.Contains(t, out, `"attempt":"generate"`)
	assert.Contains(t, out, `"outcome":"generated"`)
	assert.Contains(t, out, `"method":"Landfill_Example"`)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("artifact attempt finished")))
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(Config{}, zerolog.Nop())
	assert.Error(t, err)

	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	_, err = NewOrchestrator(Config{Store: store, Policy: DefaultPolicy()}, zerolog.Nop())
	assert.Error(t, err, "generation needs a generator")

	_, err = NewOrchestrator(Config{Store: store}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "loaded", Loaded.String())
	assert.Equal(t, "generated", Generated.String())
}

func TestResolveOrGenerate_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	lock := store.lockPath(exampleMethod)
	require.NoError(t, os.WriteFile(lock, []byte("1"), 0o644))

	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Store: store, Generator: gen, Policy: DefaultPolicy()})

	var wg sync.WaitGroup
	var shortErr error
	wg.Add(3)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		_, shortErr = o.ResolveOrGenerate(ctx, exampleMethod)
	}()

	var (
		patient    *Artifact
		patientErr error
	)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		patient, patientErr = o.ResolveOrGenerate(context.Background(), exampleMethod)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(300 * time.Millisecond)
		_ = os.Remove(lock)
	}()
	wg.Wait()

	assert.ErrorIs(t, shortErr, ErrLocked)
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	require.NoError(t, patientErr, "a caller with a live context outlasts one whose deadline passed")
	assert.Equal(t, Generated, patient.Source)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestResolveOrGenerate_MismatchedPairIsRegenerated(t *testing.T) {
	const other = "Landfill_Example_Year_Varying"
	gen := newCountingGenerator()
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	o := newTestOrchestrator(t, Config{Store: store, Generator: gen, Policy: DefaultPolicy()})

	first, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	foreign, err := o.ResolveOrGenerate(context.Background(), other)
	require.NoError(t, err)
	foreignData, _ := readFiles(t, foreign)

	// The CSV of one run next to the metadata of another.
	require.NoError(t, os.WriteFile(first.DataPath, foreignData, 0o644))
	_, _, err = store.Load(exampleMethod)
	require.ErrorIs(t, err, ErrCorrupt)

	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Generated, art.Source)
	assert.Equal(t, int32(3), gen.calls.Load())
	assert.Equal(t, first.Table.Rows(), art.Table.Rows())
	data, _ := readFiles(t, art)
	assert.Equal(t, DataDigest(data), art.Metadata.DataSHA256)
}

func TestResolveOrGenerate_MismatchedRemotePairFallsBack(t *testing.T) {
	url, _ := publishExample(t)
	remote := openTestRemote(t, url)
	_, meta, err := remote.Fetch(context.Background(), exampleMethod)
	require.NoError(t, err)
	require.NoError(t, remote.Publish(context.Background(), exampleMethod,
		[]byte("Year,landfillOperationYear,Unit\n"), meta))

	gen := newCountingGenerator()
	o := newTestOrchestrator(t, Config{Generator: gen, Remote: remote, Policy: Policy{Download: true, Generate: true}})
	art, err := o.ResolveOrGenerate(context.Background(), exampleMethod)
	require.NoError(t, err)
	assert.Equal(t, Generated, art.Source)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestResolveOrGenerate_ZeroYearArtifactKeepsUnit(t *testing.T) {
	doc := `
waste_acceptance_rate: {2000: 1000}
k: 0.05
methane_correction_factor: 1
degradable_organic_carbon: 0.15
degradable_organic_carbon_fraction: 0.5
methane_content: 0.5
methane_oxidation_fraction: 0.1
LFG_recovery: false
calc_year: 2000
unit: Tonnes CH4
`
	r := methodconfig.NewResolver(nil, zerolog.Nop())
	r.Methods = methodconfig.Root{Name: "methods", FS: fstest.MapFS{"Empty_Site.yaml": {Data: []byte(doc)}}}
	store := NewLocalStore(t.TempDir(), zerolog.Nop())
	o := newTestOrchestrator(t, Config{
		Store:     store,
		Generator: lfg.NewGenerator(r, zerolog.Nop()),
		Policy:    DefaultPolicy(),
	})

	first, err := o.ResolveOrGenerate(context.Background(), "Empty_Site")
	require.NoError(t, err)
	require.Equal(t, Generated, first.Source)
	require.Equal(t, 0, first.Table.Len())

	again, err := o.ResolveOrGenerate(context.Background(), "Empty_Site")
	require.NoError(t, err)
	assert.Equal(t, Loaded, again.Source)
	assert.Equal(t, "Tonnes CH4", again.Table.Unit())
	assert.Equal(t, 2000, again.Table.InitialYear())
	assert.Equal(t, first.Table.Materials(), again.Table.Materials())
}

func TestOrchestrator_RejectsUnsafeNames(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{name: "empty", method: ""},
		{name: "parent directory", method: ".."},
		{name: "relative escape", method: "../escape"},
		{name: "nested path", method: "a/b"},
		{name: "absolute path", method: "/etc/passwd"},
		{name: "backslash", method: `..\escape`},
		{name: "drive letter", method: "C:escape"},
		{name: "versioned escape", method: "../escape_v1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			store := NewLocalStore(filepath.Join(parent, "store"), zerolog.Nop())
			gen := newCountingGenerator()
			o := newTestOrchestrator(t, Config{Store: store, Generator: gen, Policy: DefaultPolicy()})

			_, err := o.ResolveOrGenerate(context.Background(), tt.method)
			assert.ErrorIs(t, err, ErrInvalidName)
			_, err = o.Generate(context.Background(), tt.method)
			assert.ErrorIs(t, err, ErrInvalidName)
			_, _, err = store.Load(tt.method)
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.ErrorIs(t, store.SaveRaw(tt.method, []byte("x"), []byte("{}")), ErrInvalidName)

			assert.Equal(t, int32(0), gen.calls.Load())
			assert.NoFileExists(t, filepath.Join(parent, "escape.csv"))
			assert.NoDirExists(t, store.Dir())
		})
	}
}

func TestValidName(t *testing.T) {
	for _, name := range []string{exampleMethod, "Landfill_Example_Year_Varying", "site-2.v1"} {
		assert.NoError(t, ValidName(name), name)
	}
}
