package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rshade/lfgcalc/internal/emissions"
)

// Tool is recorded as the producing tool in every metadata file.
const Tool = "lfgcalc"

// DefaultMethodURLBase points method_url at the published method documents.
const DefaultMethodURLBase = "https://github.com/USEPA/lfg-calc-py/blob"

// dateLayout matches the timestamp format of previously published artifacts.
const dateLayout = "2006-01-02 15:04:05"

// Version and Commit are set at link time:
//
//	-ldflags "-X github.com/rshade/lfgcalc/internal/artifact.Version=v1.2.0
//	          -X github.com/rshade/lfgcalc/internal/artifact.Commit=<sha>"
var (
	Version = "dev"
	Commit  = ""
)

// Build identifies the binary that produced an artifact.
type Build struct {
	Version string
	Commit  string
}

// CurrentBuild returns the link-time build identity, falling back to the VCS
// revision embedded by the Go toolchain when Commit was not set.
func CurrentBuild() Build {
	b := Build{Version: Version, Commit: Commit}
	if b.Commit != "" {
		return b
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				b.Commit = s.Value
			}
		}
	}
	return b
}

// ShortHash returns the first seven characters of the commit.
func (b Build) ShortHash() string {
	if len(b.Commit) > 7 {
		return b.Commit[:7]
	}
	return b.Commit
}

// Metadata describes how and when an artifact was produced. It is written as
// JSON next to the artifact CSV.
type Metadata struct {
	Tool           string   `json:"tool"`
	Category       string   `json:"category"`
	NameData       string   `json:"name_data"`
	ToolVersion    string   `json:"tool_version"`
	GitHash        string   `json:"git_hash"`
	Ext            string   `json:"ext"`
	DateCreated    string   `json:"date_created"`
	MethodURL      string   `json:"method_url"`
	RunID          string   `json:"run_id"`
	Unit           string   `json:"unit,omitempty"`
	Materials      []string `json:"materials,omitempty"`
	InitialYear    int      `json:"initial_year"`
	OperationYears int      `json:"operation_years"`
	// DataSHA256 is the hex SHA-256 of the CSV this file describes.
	DataSHA256     string   `json:"data_sha256"`
}

// NewMetadata describes table as generated for method by build at now.
func NewMetadata(method string, table *emissions.Table, build Build, urlBase string, now time.Time) Metadata {
	return Metadata{
		Tool:           Tool,
		NameData:       method,
		ToolVersion:    build.Version,
		GitHash:        build.ShortHash(),
		Ext:            "csv",
		DateCreated:    now.Format(dateLayout),
		MethodURL:      MethodURL(urlBase, build.Commit, method),
		RunID:          uuid.New().String(),
		Unit:           table.Unit(),
		Materials:      table.Materials(),
		InitialYear:    table.InitialYear(),
		OperationYears: table.Len(),
	}
}

// MethodURL links to the method document at the given commit. An unknown
// commit links to the main branch.
func MethodURL(base, commit, method string) string {
	if base == "" {
		base = DefaultMethodURLBase
	}
	if commit == "" {
		commit = "main"
	}
	return fmt.Sprintf("%s/%s/lfg_calc_py/methods/%s.yaml", strings.TrimSuffix(base, "/"), commit, method)
}

// DataDigest returns the hex SHA-256 of an encoded CSV.
func DataDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports ErrCorrupt unless data is the CSV m was written for.
func (m Metadata) Verify(data []byte) error {
	if m.DataSHA256 == "" {
		return fmt.Errorf("%w: metadata has no data_sha256", ErrCorrupt)
	}
	if got := DataDigest(data); got != m.DataSHA256 {
		return fmt.Errorf("%w: data digest %s does not match metadata %s", ErrCorrupt, got, m.DataSHA256)
	}
	return nil
}

// EncodeMetadata renders m as indented JSON.
func EncodeMetadata(m Metadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// DecodeMetadata parses a metadata file. A document without a name_data
// field is rejected.
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if m.NameData == "" {
		return Metadata{}, fmt.Errorf("%w: metadata has no name_data", ErrCorrupt)
	}
	return m, nil
}
