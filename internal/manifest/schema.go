// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated manifest schema.
const SchemaID = "https://quire.dev/schemas/extension-manifest.schema.json"

var (
	schemaOnce     sync.Once
	schemaCompiled *jschema.Schema
	schemaErr      error
)

// JSONSchema constrains capability strings to the known set.
func (Capability) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, len(knownCapabilities))
	for _, c := range knownCapabilities {
		enum = append(enum, string(c))
	}
	return &jsonschema.Schema{Type: "string", Enum: enum}
}

// GenerateSchema reflects the Manifest struct into a JSON Schema document.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
		// Manifests written for other hosts carry extra keys; tolerate them.
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Quire Extension Manifest"
	schema.Description = "Schema for extension manifest files (manifest.yaml or manifest.json)"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates a YAML or JSON manifest against the generated schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid manifest document: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			schemaErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		schemaCompiled, schemaErr = c.Compile("manifest.schema.json")
	})
	return schemaCompiled, schemaErr
}

// toJSONTypes normalizes yaml.v3 output so the validator sees JSON values.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case string, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}

// FormatSchemaError strips the wrapper prefix from a schema error.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
