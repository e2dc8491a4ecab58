package taxonomy

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type document struct {
	Categories []struct {
		Name          string   `json:"name"`
		Subcategories []string `json:"subcategories"`
	} `json:"categories"`
}

// Load reads a taxonomy file. The format follows the extension: .csv holds
// category,subcategory rows; .yaml/.yml and .json hold a categories document
// that is checked against a JSON schema before use.
func Load(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewAppError("TAXONOMY_ERROR", "read taxonomy file", err)
	}

	var entries []entity.TaxonomyEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = ParseCSV(strings.NewReader(string(raw)))
	case ".yaml", ".yml":
		entries, err = ParseYAML(raw)
	case ".json":
		entries, err = ParseJSON(raw)
	default:
		return nil, common.NewAppError("TAXONOMY_ERROR", "unsupported taxonomy format: "+path, common.ErrInvalidInput)
	}
	if err != nil {
		return nil, common.NewAppError("TAXONOMY_ERROR", "parse "+path, err)
	}
	return New(entries)
}

// ParseCSV reads category,subcategory rows. A leading header row, blank
// lines and lines starting with '#' are skipped.
func ParseCSV(r io.Reader) ([]entity.TaxonomyEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var out []entity.TaxonomyEntry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(rec) < 2 {
			if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
				continue
			}
			return nil, fmt.Errorf("csv line %d: want category,subcategory got %d field(s)", line, len(rec))
		}
		if len(out) == 0 && fold(rec[0]) == "category" && fold(rec[1]) == "subcategory" {
			continue
		}
		out = append(out, entity.TaxonomyEntry{Category: rec[0], Subcategory: rec[1]})
	}
	return out, nil
}

// ParseJSON validates and flattens a JSON categories document.
func ParseJSON(raw []byte) ([]entity.TaxonomyEntry, error) {
	if err := ValidateJSONAgainstSchema(documentSchema, raw); err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode taxonomy json: %w", err)
	}
	var out []entity.TaxonomyEntry
	for _, c := range doc.Categories {
		for _, s := range c.Subcategories {
			out = append(out, entity.TaxonomyEntry{Category: c.Name, Subcategory: s})
		}
	}
	return out, nil
}

// ParseYAML converts a YAML categories document to JSON and parses that, so
// both formats share one schema.
func ParseYAML(raw []byte) ([]entity.TaxonomyEntry, error) {
	var v interface{}
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode taxonomy yaml: %w", err)
	}
	js, err := json.Marshal(jsonCompatible(v))
	if err != nil {
		return nil, fmt.Errorf("convert taxonomy yaml: %w", err)
	}
	return ParseJSON(js)
}

// jsonCompatible rewrites yaml.v2's map[interface{}]interface{} nodes into
// string-keyed maps.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return m
	case []interface{}:
		for i := range t {
			t[i] = jsonCompatible(t[i])
		}
		return t
	default:
		return v
	}
}
