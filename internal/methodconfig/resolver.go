// Package methodconfig locates method documents, expands their !include:
// directives and decodes the result into a Method.
package methodconfig

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// IncludeTagPrefix starts every include directive tag.
const IncludeTagPrefix = "!include:"

// MaxIncludeDepth bounds include nesting. Exceeding it fails with
// ErrCyclicInclusion.
const MaxIncludeDepth = 32

//go:embed methods/*.yaml
var embeddedMethods embed.FS

//go:embed shared/*.yaml
var embeddedShared embed.FS

// versionSuffix matches the "_v<digit>..." tail carried by artifact names.
var versionSuffix = regexp.MustCompile(`_v[0-9].*`)

// Root is a named search location.
type Root struct {
	Name string
	FS   fs.FS
}

// Resolver finds method documents and expands include directives. Method
// documents are looked up in External then Methods; include targets in
// External, Methods, then Data.
type Resolver struct {
	External []Root
	Methods  Root
	Data     Root

	logger zerolog.Logger
}

// NewResolver returns a Resolver over the embedded method and shared
// directories, searching the given external directories first.
func NewResolver(externalDirs []string, logger zerolog.Logger) *Resolver {
	external := make([]Root, 0, len(externalDirs))
	for _, dir := range externalDirs {
		if dir == "" {
			continue
		}
		external = append(external, Root{Name: dir, FS: os.DirFS(dir)})
	}
	return &Resolver{
		External: external,
		Methods:  Root{Name: "methods", FS: mustSub(embeddedMethods, "methods")},
		Data:     Root{Name: "shared", FS: mustSub(embeddedShared, "shared")},
		logger:   logger.With().Str("component", "methodconfig").Logger(),
	}
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// CanonicalName strips a "_v<version>" suffix from name. The second result
// reports whether anything was stripped.
func CanonicalName(name string) (string, bool) {
	stripped := versionSuffix.ReplaceAllString(name, "")
	return stripped, stripped != name
}

// Resolve loads the method document name.yaml and returns its root node with
// every include directive expanded.
func (r *Resolver) Resolve(name string) (*yaml.Node, error) {
	canonical, stripped := CanonicalName(name)
	if stripped {
		r.logger.Warn().
			Str("method", name).
			Str("canonical", canonical).
			Msg("method name carries a version suffix; loading the current document, which may differ from the one that produced the artifact")
	}

	file := canonical + ".yaml"
	roots := append(append([]Root{}, r.External...), r.Methods)
	root, err := locate(file, roots)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().Str("method", canonical).Str("path", root.Name+"/"+file).Msg("loading method document")
	return r.load(root, file, nil)
}

// Available lists the method names found in every method root, sorted and
// without duplicates.
func (r *Resolver) Available() ([]string, error) {
	seen := make(map[string]bool)
	for _, root := range append(append([]Root{}, r.External...), r.Methods) {
		matches, err := fs.Glob(root.FS, "*.yaml")
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", root.Name, err)
		}
		for _, m := range matches {
			seen[strings.TrimSuffix(m, ".yaml")] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func locate(file string, roots []Root) (Root, error) {
	clean := path.Clean(file)
	searched := make([]string, 0, len(roots))
	if fs.ValidPath(clean) {
		for _, root := range roots {
			if root.FS == nil {
				continue
			}
			searched = append(searched, root.Name)
			if _, err := fs.Stat(root.FS, clean); err == nil {
				return root, nil
			}
		}
	}
	return Root{}, &NotFoundError{File: file, Searched: searched}
}

// load parses file from root and expands its includes. chain holds the
// documents currently being expanded, outermost first.
func (r *Resolver) load(root Root, file string, chain []string) (*yaml.Node, error) {
	id := root.Name + "/" + path.Clean(file)
	for _, c := range chain {
		if c == id {
			return nil, &CyclicInclusionError{Chain: append(append([]string{}, chain...), id)}
		}
	}
	if len(chain) >= MaxIncludeDepth {
		return nil, fmt.Errorf("%w: include depth exceeds %d at %s", ErrCyclicInclusion, MaxIncludeDepth, id)
	}
	chain = append(chain, id)

	raw, err := fs.ReadFile(root.FS, path.Clean(file))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", id, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidParameter, id)
	}

	node := doc.Content[0]
	if err := r.expand(node, chain); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return node, nil
}

// expand walks node depth first and replaces every include-tagged node in
// place, so aliases that point at it observe the expanded value.
func (r *Resolver) expand(node *yaml.Node, chain []string) error {
	if node == nil || node.Kind == yaml.AliasNode {
		return nil
	}
	for _, child := range node.Content {
		if err := r.expand(child, chain); err != nil {
			return err
		}
	}
	if !strings.HasPrefix(node.Tag, IncludeTagPrefix) {
		return nil
	}

	directive := strings.TrimPrefix(node.Tag, IncludeTagPrefix)
	file, keys := splitDirective(directive)

	roots := append(append([]Root{}, r.External...), r.Methods, r.Data)
	root, err := locate(file, roots)
	if err != nil {
		return err
	}
	r.logger.Debug().Str("include", directive).Str("path", root.Name+"/"+file).Msg("expanding include")

	branch, err := r.load(root, file, chain)
	if err != nil {
		return err
	}
	branch, err = narrow(branch, directive, keys)
	if err != nil {
		return err
	}

	merged, err := merge(node, branch, directive)
	if err != nil {
		return err
	}
	*node = *merged
	return nil
}

// splitDirective separates "file.yaml:a:b" or "file.yaml:a.b" into the file
// name and its key path.
func splitDirective(directive string) (string, []string) {
	parts := strings.Split(directive, ":")
	var keys []string
	for _, part := range parts[1:] {
		for _, k := range strings.Split(part, ".") {
			if k != "" {
				keys = append(keys, k)
			}
		}
	}
	return parts[0], keys
}

// narrow descends through mapping keys of an included document.
func narrow(node *yaml.Node, directive string, keys []string) (*yaml.Node, error) {
	for _, key := range keys {
		node = deref(node)
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: !include:%s: %q is not inside a mapping", ErrIncludeKeyNotFound, directive, key)
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: !include:%s: %q", ErrIncludeKeyNotFound, directive, key)
		}
		node = next
	}
	return deref(node), nil
}

func deref(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

// merge combines a host node with the included branch according to the host
// kind: mappings overlay host keys, sequences append included items after
// the host items, and scalars take the included value.
func merge(host, branch *yaml.Node, directive string) (*yaml.Node, error) {
	switch host.Kind {
	case yaml.MappingNode:
		if branch.Kind != yaml.MappingNode {
			return nil, mismatch(host, branch, directive)
		}
		out := &yaml.Node{
			Kind:   yaml.MappingNode,
			Tag:    "!!map",
			Style:  host.Style,
			Anchor: host.Anchor,
			Line:   host.Line,
			Column: host.Column,
		}
		out.Content = append(out.Content, branch.Content...)
		for i := 0; i+1 < len(host.Content); i += 2 {
			key, val := host.Content[i], host.Content[i+1]
			replaced := false
			for j := 0; j+1 < len(out.Content); j += 2 {
				if out.Content[j].Value == key.Value {
					out.Content[j+1] = val
					replaced = true
					break
				}
			}
			if !replaced {
				out.Content = append(out.Content, key, val)
			}
		}
		return out, nil

	case yaml.SequenceNode:
		if branch.Kind != yaml.SequenceNode {
			return nil, mismatch(host, branch, directive)
		}
		out := &yaml.Node{
			Kind:   yaml.SequenceNode,
			Tag:    "!!seq",
			Style:  host.Style,
			Anchor: host.Anchor,
			Line:   host.Line,
			Column: host.Column,
		}
		out.Content = append(out.Content, host.Content...)
		out.Content = append(out.Content, branch.Content...)
		return out, nil

	case yaml.ScalarNode:
		out := *branch
		out.Anchor = host.Anchor
		return &out, nil

	default:
		return nil, mismatch(host, branch, directive)
	}
}

func mismatch(host, branch *yaml.Node, directive string) error {
	return &TypeMismatchError{
		Directive: directive,
		Host:      kindName(host.Kind),
		Included:  kindName(branch.Kind),
		Line:      host.Line,
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.DocumentNode:
		return "document"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
