package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{envOutputDir, envMethodPath, envRemoteURL, envDownload, envLogLevel, envURLBase} {
		t.Setenv(k, "")
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_GeneratesThenLoads(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "run", "Landfill_Example", "--output-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Landfill_Example\tgenerated\t"+filepath.Join(dir, "Landfill_Example.csv")+"\n", out)
	assert.FileExists(t, filepath.Join(dir, "Landfill_Example_metadata.json"))

	out, err = execute(t, "run", "Landfill_Example", "--output-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "\tloaded\t")

	out, err = execute(t, "generate", "Landfill_Example", "--output-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "\tgenerated\t")
}

func TestRun_UnknownMethod(t *testing.T) {
	_, err := execute(t, "run", "Nope", "--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope.yaml not found")
}

func TestRun_ExternalMethodPath(t *testing.T) {
	methods := t.TempDir()
	doc := `
waste_acceptance_rate: {2000-2004: 1000}
k: 0.05
methane_correction_factor: 1
degradable_organic_carbon: 0.15
degradable_organic_carbon_fraction: 0.5
methane_content: 0.5
methane_oxidation_fraction: 0.1
LFG_recovery: false
calc_year: 2010
unit: Tonnes CH4
`
	require.NoError(t, os.WriteFile(filepath.Join(methods, "Site_A.yaml"), []byte(doc), 0o644))

	out, err := execute(t, "run", "Site_A", "--method-path", methods, "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Site_A\tgenerated\t"))

	out, err = execute(t, "list", "--method-path", methods)
	require.NoError(t, err)
	assert.Contains(t, out, "Site_A\n")
}

func TestPublishThenDownload(t *testing.T) {
	src := t.TempDir()
	remote := "file://" + t.TempDir()

	_, err := execute(t, "run", "Landfill_Example", "--output-dir", src)
	require.NoError(t, err)
	_, err = execute(t, "publish", "Landfill_Example", "--output-dir", src, "--remote-url", remote)
	require.NoError(t, err)

	dst := t.TempDir()
	out, err := execute(t, "run", "Landfill_Example",
		"--output-dir", dst, "--remote-url", remote, "--download", "--generate=false")
	require.NoError(t, err)
	assert.Contains(t, out, "\tloaded\t")

	want, err := os.ReadFile(filepath.Join(src, "Landfill_Example.csv"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dst, "Landfill_Example.csv"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPublish_RequiresRemote(t *testing.T) {
	_, err := execute(t, "publish", "Landfill_Example", "--output-dir", t.TempDir())
	assert.ErrorContains(t, err, "publish requires --remote-url")
}

func TestUnsafeMethodNamesRejected(t *testing.T) {
	parent := t.TempDir()
	out := filepath.Join(parent, "out")
	remote := "file://" + t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{name: "run", args: []string{"run", "../escape", "--output-dir", out}},
		{name: "generate", args: []string{"generate", "../escape", "--output-dir", out}},
		{name: "publish", args: []string{"publish", "../escape", "--output-dir", out, "--remote-url", remote}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid method name")
			assert.NoFileExists(t, filepath.Join(parent, "escape.csv"))
		})
	}
}

func TestDownload_RequiresRemote(t *testing.T) {
	_, err := execute(t, "run", "Landfill_Example", "--download")
	assert.ErrorContains(t, err, "--download requires --remote-url")
}

func TestConfigAndList(t *testing.T) {
	out, err := execute(t, "config", "Landfill_Example_Material_Specific")
	require.NoError(t, err)
	assert.Contains(t, out, "methane_oxidation_fraction")
	assert.NotContains(t, out, "!include")

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Equal(t,
		"Landfill_Example\nLandfill_Example_Material_Specific\nLandfill_Example_Year_Varying\n", out)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "lfgcalc dev"))
}
