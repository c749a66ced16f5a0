// Package language defines the fixed set of editor languages and the table
// mapping each of them to the remote execution service.
//
// The service ids are specific to one service instance, so the table is
// loaded from YAML: an embedded default that a configuration file may
// override entry by entry.
package language

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Name identifies an editor language
type Name string

// Supported languages, in tab order
const (
	Cpp    Name = "cpp"
	Java   Name = "java"
	Python Name = "py"
)

var names = []Name{Cpp, Java, Python}

// ErrUnknown is returned for a language outside the fixed set
var ErrUnknown = errors.New("unknown language")

// Names returns all supported languages in tab order
func Names() []Name {
	return append([]Name(nil), names...)
}

// ParseName converts user input into a Name. Highlighting ids and common
// aliases are accepted.
func ParseName(s string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpp", "c++", "cc", "cxx":
		return Cpp, nil
	case "java":
		return Java, nil
	case "py", "python", "python3":
		return Python, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, s)
}

// Valid reports whether n is one of the supported languages
func (n Name) Valid() bool {
	for _, v := range names {
		if v == n {
			return true
		}
	}
	return false
}

// Spec describes one language entry
type Spec struct {
	Name      Name   `yaml:"name" json:"name"`
	FileName  string `yaml:"fileName" json:"fileName"`   // display file name, e.g. Main.cpp
	Highlight string `yaml:"highlight" json:"highlight"` // syntax highlighting id for the editor
	ServiceID int    `yaml:"serviceId" json:"serviceId"` // remote execution service language_id
	Template  string `yaml:"template" json:"template"`   // starter source
}

// Table maps every supported language to its Spec
type Table struct {
	specs map[Name]Spec
}

type tableFile struct {
	Languages []Spec `yaml:"languages"`
}

//go:embed defaults.yaml
var defaultYAML []byte

// Default returns the built-in table
func Default() *Table {
	t, err := Parse(defaultYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("language: invalid built-in table: %v", err))
	}
	return t
}

// Load reads a YAML table from path and applies it over the built-in table.
// A missing file returns an error wrapping os.ErrNotExist.
func Load(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(b, Default())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse parses a YAML table. When base is not nil, each entry overrides the
// non-empty fields of the base entry with the same name; otherwise every
// language must be fully described.
func Parse(data []byte, base *Table) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse language table: %w", err)
	}

	t := &Table{specs: make(map[Name]Spec, len(names))}
	if base != nil {
		for n, s := range base.specs {
			t.specs[n] = s
		}
	}

	seen := make(map[Name]bool, len(f.Languages))
	for _, s := range f.Languages {
		if !s.Name.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknown, s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicated language %q", s.Name)
		}
		seen[s.Name] = true
		t.specs[s.Name] = merge(t.specs[s.Name], s)
	}
	return t, t.validate()
}

func merge(dst, src Spec) Spec {
	dst.Name = src.Name
	if src.FileName != "" {
		dst.FileName = src.FileName
	}
	if src.Highlight != "" {
		dst.Highlight = src.Highlight
	}
	if src.ServiceID != 0 {
		dst.ServiceID = src.ServiceID
	}
	if src.Template != "" {
		dst.Template = src.Template
	}
	return dst
}

func (t *Table) validate() error {
	for _, n := range names {
		s, ok := t.specs[n]
		if !ok {
			return fmt.Errorf("language %q is not defined", n)
		}
		if s.ServiceID <= 0 {
			return fmt.Errorf("language %q: invalid service id %d", n, s.ServiceID)
		}
		if s.FileName == "" {
			return fmt.Errorf("language %q: empty file name", n)
		}
	}
	return nil
}

// Lookup returns the Spec of n
func (t *Table) Lookup(n Name) (Spec, bool) {
	s, ok := t.specs[n]
	return s, ok
}

// ServiceID returns the remote service id of n
func (t *Table) ServiceID(n Name) (int, bool) {
	s, ok := t.specs[n]
	return s.ServiceID, ok
}

// Specs returns all entries in tab order
func (t *Table) Specs() []Spec {
	rt := make([]Spec, 0, len(names))
	for _, n := range names {
		rt = append(rt, t.specs[n])
	}
	return rt
}
