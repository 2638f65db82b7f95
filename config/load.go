package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the on-disk layout:
//
//	aws:
//	  access_key_id: minioadmin
//	  endpoint: http://localhost:9000
//	  allow_http: true
//	azure:
//	  account_name: devstoreaccount1
//	gcp: {}
type document struct {
	AWS   map[string]any `yaml:"aws"`
	Azure map[string]any `yaml:"azure"`
	GCP   map[string]any `yaml:"gcp"`
}

// Load reads Options from a YAML file.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	o, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Options{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return o, nil
}

// Decode reads Options from a YAML stream. Sections that are absent leave
// the provider unconfigured; an empty mapping configures it with defaults.
func Decode(r io.Reader) (Options, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("decode yaml: %w", err)
	}

	var o Options
	for _, section := range []struct {
		provider Provider
		values   map[string]any
	}{
		{AWS, doc.AWS},
		{Azure, doc.Azure},
		{GCP, doc.GCP},
	} {
		if section.values == nil {
			continue
		}
		values := make(map[string]string, len(section.values))
		for k, v := range section.values {
			if v == nil {
				values[k] = ""
				continue
			}
			values[k] = fmt.Sprint(v)
		}
		ps, err := ParsePairs(section.provider, values)
		if err != nil {
			return Options{}, err
		}
		o.set(section.provider, ps)
	}
	return o, nil
}
