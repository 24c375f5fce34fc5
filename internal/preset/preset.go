// Package preset loads the query-preset file: named query texts fed
// through the compile entry point by the preset smoke test.
package preset

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrMalformedPair = errors.New("preset: query entry is not a [name, text] pair")
	ErrDuplicateName = errors.New("preset: duplicate query name")
	ErrEmptyField    = errors.New("preset: empty query name or text")
)

// Query is one named preset query.
type Query struct {
	Name string
	Text string
}

type presetFile struct {
	Queries [][]string `toml:"queries"`
}

// Parse decodes and validates preset TOML: a `queries` array of
// [name, text] pairs with unique, non-empty names.
func Parse(data []byte) ([]Query, error) {
	var f presetFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "preset: decoding TOML")
	}

	seen := make(map[string]struct{}, len(f.Queries))
	queries := make([]Query, 0, len(f.Queries))
	for i, pair := range f.Queries {
		if len(pair) != 2 {
			return nil, errors.Wrapf(ErrMalformedPair, "entry %d has %d elements", i, len(pair))
		}
		name, text := pair[0], pair[1]
		if name == "" || text == "" {
			return nil, errors.Wrapf(ErrEmptyField, "entry %d", i)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Wrapf(ErrDuplicateName, "%q", name)
		}
		seen[name] = struct{}{}
		queries = append(queries, Query{Name: name, Text: text})
	}
	return queries, nil
}

// Load reads and parses a preset file from disk.
func Load(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "preset: reading %s", path)
	}
	return Parse(data)
}
