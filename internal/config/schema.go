// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// schemaCache holds the compiled schema to avoid recompilation.
var schemaCache *jschema.Schema

// SchemaID is the $id embedded in the generated configuration schema.
const SchemaID = "https://doorward.dev/schemas/config.schema.json"

// GenerateSchema generates a JSON Schema for the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Doorward Configuration"
	schema.Description = "Schema for doorward.yaml configuration files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema validates YAML configuration data against the schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code("SCHEMA_EMPTY_INPUT").Errorf("configuration data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return oops.Code("SCHEMA_INVALID_YAML").Wrap(err)
	}

	jsonData := convertToJSONTypes(yamlData)

	sch, err := getCompiledSchema()
	if err != nil {
		return oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}

	if err := sch.Validate(jsonData); err != nil {
		return oops.Code("SCHEMA_VALIDATION_FAILED").Wrap(err)
	}
	return nil
}

func getCompiledSchema() (*jschema.Schema, error) {
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, err
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, err
	}

	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, err
	}

	schemaCache = sch
	return sch, nil
}

// convertToJSONTypes converts YAML-parsed data to JSON-compatible types.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	default:
		return val
	}
}
