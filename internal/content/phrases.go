// Package content loads the phrase pairs dealt at game start.
package content

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pair is one phrase pair: every player but one receives Common; the chosen
// partner receives Partner.
type Pair struct {
	Common  string `yaml:"common"`
	Partner string `yaml:"partner"`
}

// Validate checks that both halves are present and differ.
func (p Pair) Validate() error {
	if strings.TrimSpace(p.Common) == "" || strings.TrimSpace(p.Partner) == "" {
		return errors.New("phrase pair halves must not be empty")
	}
	if p.Common == p.Partner {
		return fmt.Errorf("phrase pair halves must differ: %q", p.Common)
	}
	return nil
}

type yamlPhraseFile struct {
	Pairs []Pair `yaml:"pairs"`
}

// Provider hands out phrase pairs. It is read-only after construction.
type Provider interface {
	Pick() Pair
}

// Library is a Provider over a fixed set of pairs.
type Library struct {
	pairs []Pair
	src   Source
}

// NewLibrary builds a Library.
//
// Precondition: src must be non-nil.
// Postcondition: Returns an error if pairs is empty or any pair is invalid.
func NewLibrary(pairs []Pair, src Source) (*Library, error) {
	if len(pairs) == 0 {
		return nil, errors.New("phrase library must contain at least one pair")
	}
	for i, p := range pairs {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
	}
	return &Library{pairs: append([]Pair(nil), pairs...), src: src}, nil
}

// Pick returns a uniformly random pair.
func (l *Library) Pick() Pair {
	return l.pairs[l.src.Intn(len(l.pairs))]
}

// Len returns the number of pairs.
func (l *Library) Len() int {
	return len(l.pairs)
}

// LoadFile reads a phrase YAML file.
//
// Precondition: path must point to a YAML file with a top-level "pairs" list.
// Postcondition: Returns the parsed pairs or a non-nil error.
func LoadFile(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading phrase file %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses phrase pairs from YAML bytes.
func LoadBytes(data []byte) ([]Pair, error) {
	var file yamlPhraseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing phrase YAML: %w", err)
	}
	return file.Pairs, nil
}
