// Package hunt resolves named structural queries ("fingerprints") against a
// loaded image set, reusing what an earlier run over the same images found.
package hunt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/model"
)

// QuerySpec is the YAML form of a structural query. Class names may be
// descriptors or Java names; "*" in ParameterTypes matches any type.
type QuerySpec struct {
	DeclaringClass         string   `yaml:"declaring_class,omitempty" json:"declaring_class,omitempty"`
	ReturnType             string   `yaml:"return_type,omitempty" json:"return_type,omitempty"`
	ParameterTypes         []string `yaml:"parameter_types,omitempty" json:"parameter_types,omitempty"`
	ContainsParameterTypes []string `yaml:"contains_parameter_types,omitempty" json:"contains_parameter_types,omitempty"`
	ParameterCount         *int     `yaml:"parameter_count,omitempty" json:"parameter_count,omitempty"`
	Shorty                 string   `yaml:"shorty,omitempty" json:"shorty,omitempty"`
	ShortyPrefix           bool     `yaml:"shorty_prefix,omitempty" json:"shorty_prefix,omitempty"`
	DexPriority            []int    `yaml:"dex_priority,omitempty" json:"dex_priority,omitempty"`
	FindFirst              bool     `yaml:"find_first,omitempty" json:"find_first,omitempty"`
}

// Fingerprint names one query. A method fingerprint has at most one anchor
// (String, Invoking, Invoked, Getting or Setting); with none it searches by
// signature alone. A field fingerprint matches on FieldType.
type Fingerprint struct {
	Name string     `yaml:"name" json:"name"`
	Kind model.Kind `yaml:"kind,omitempty" json:"kind,omitempty"`

	String string `yaml:"string,omitempty" json:"string,omitempty"`
	Prefix bool   `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// Method anchors in smali form: Lcom/a/C;->m(I)V.
	Invoking string `yaml:"invoking,omitempty" json:"invoking,omitempty"`
	Invoked  string `yaml:"invoked,omitempty" json:"invoked,omitempty"`

	// Field anchors in smali form: Lcom/a/C;->f:I.
	Getting string `yaml:"getting,omitempty" json:"getting,omitempty"`
	Setting string `yaml:"setting,omitempty" json:"setting,omitempty"`

	FieldType string `yaml:"field_type,omitempty" json:"field_type,omitempty"`

	Query QuerySpec `yaml:"query,omitempty" json:"query"`
}

// Set is a fingerprint file.
type Set struct {
	Fingerprints []Fingerprint `yaml:"fingerprints"`
}

// Parse reads and validates a YAML fingerprint set.
func Parse(r io.Reader) (*Set, error) {
	var set Set
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.CodeInvalidInput, "empty fingerprint file")
		}
		return nil, errors.Wrap(errors.CodeInvalidInput, "failed to parse fingerprints", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadFile parses the fingerprint set at path.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fingerprint file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Validate checks every fingerprint and that names are unique.
func (s *Set) Validate() error {
	if len(s.Fingerprints) == 0 {
		return errors.New(errors.CodeInvalidInput, "no fingerprints defined")
	}
	seen := make(map[string]bool, len(s.Fingerprints))
	for i := range s.Fingerprints {
		fp := &s.Fingerprints[i]
		if fp.Kind == "" {
			fp.Kind = model.KindMethod
		}
		if err := fp.Validate(); err != nil {
			return err
		}
		if seen[fp.Name] {
			return errors.Newf(errors.CodeInvalidInput, "duplicate fingerprint %q", fp.Name)
		}
		seen[fp.Name] = true
	}
	return nil
}

// Validate checks that the fingerprint is well formed.
func (f *Fingerprint) Validate() error {
	if f.Name == "" {
		return errors.New(errors.CodeInvalidInput, "fingerprint name is required")
	}
	anchors := 0
	for _, a := range []string{f.Invoking, f.Invoked, f.Getting, f.Setting} {
		if a != "" {
			anchors++
		}
	}
	if f.String != "" || f.Prefix {
		anchors++
	}

	switch f.Kind {
	case model.KindMethod, "":
		if anchors > 1 {
			return errors.Newf(errors.CodeInvalidInput, "fingerprint %q: at most one anchor allowed", f.Name)
		}
		if f.FieldType != "" {
			return errors.Newf(errors.CodeInvalidInput, "fingerprint %q: field_type needs kind field", f.Name)
		}
	case model.KindField:
		if anchors > 0 {
			return errors.Newf(errors.CodeInvalidInput, "fingerprint %q: field fingerprints take only field_type", f.Name)
		}
	default:
		return errors.Newf(errors.CodeInvalidInput, "fingerprint %q: unknown kind %q", f.Name, f.Kind)
	}
	if f.Query.ParameterCount != nil && *f.Query.ParameterCount < 0 {
		return errors.Newf(errors.CodeInvalidInput, "fingerprint %q: negative parameter_count", f.Name)
	}
	return nil
}

// Key hashes everything but the name, so a renamed fingerprint still
// matches its stored resolution and an edited one does not.
func (f *Fingerprint) Key() string {
	c := *f
	c.Name = ""
	if c.Kind == "" {
		c.Kind = model.KindMethod
	}
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
