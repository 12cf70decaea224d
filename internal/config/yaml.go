package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a single YAML document as JSON so both formats go
// through the same strict decoder. An empty document becomes {}.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		return nil, errors.New("invalid config: more than one yaml document")
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// stringKeys rewrites non-string mapping keys (numbers, booleans) as
// strings.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	}
	return in
}
