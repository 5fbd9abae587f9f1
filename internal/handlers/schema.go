package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var countProperty = map[string]any{"type": "integer", "minimum": 0}

var scopeProperties = map[string]any{
	"source": map[string]any{"type": "string"},
	"day":    map[string]any{"type": "string", "pattern": `^(latest|\d{4}-\d{2}-\d{2})$`},
	"external_ids": map[string]any{"oneOf": []any{
		map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		map[string]any{"type": "string"},
	}},
	"scope": map[string]any{"enum": []any{"all", "latest"}},
}

var stageProperties = map[string]any{
	"lang":        map[string]any{"enum": []any{"zh", "en", "both", "all"}},
	"max_items":   countProperty,
	"per_item":    countProperty,
	"max_tasks":   countProperty,
	"concurrency": map[string]any{"type": "integer", "minimum": 0, "maximum": 64},
}

var ocrFixProperties = map[string]any{
	"lang":                   stageProperties["lang"],
	"max_items":              countProperty,
	"concurrency":            stageProperties["concurrency"],
	"qmarks_threshold":       map[string]any{"type": "integer", "minimum": 1},
	"qmarks_per_k_threshold": map[string]any{"type": "number", "exclusiveMinimum": 0},
	"regen_package":          map[string]any{"type": "boolean"},
}

var retryProperties = map[string]any{
	"source":      map[string]any{"type": "string"},
	"external_id": map[string]any{"type": "string", "minLength": 1},
	"stage":       map[string]any{"type": "string", "minLength": 1},
}

func objectSchema(required []string, groups ...map[string]any) map[string]any {
	props := map[string]any{}
	for _, g := range groups {
		maps.Copy(props, g)
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}
