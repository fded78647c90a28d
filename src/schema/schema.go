package schema

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/conversation"
)

// Draft is the JSON Schema dialect of generated documents.
const Draft = "http://json-schema.org/draft-07/schema#"

// Names lists the schemas that can be generated, in display order.
var Names = []string{"export", "params"}

// ExportSchema returns the schema of an exported conversation document.
func ExportSchema() (jsonschema.Schema, error) {
	return reflectSchema(conversation.Document{},
		"parley conversation export",
		"A conversation exported by parley. Import restores the system prompt and messages, the summary is informational.")
}

// ParamsSchema returns the schema of generation parameters.
func ParamsSchema() (jsonschema.Schema, error) {
	return reflectSchema(aisdk.Params{},
		"parley generation parameters",
		"Optional sampling parameters. Unset fields fall back to the backend defaults.")
}

// ByName returns the schema registered under name.
func ByName(name string) (jsonschema.Schema, error) {
	switch name {
	case "export":
		return ExportSchema()
	case "params":
		return ParamsSchema()
	default:
		return jsonschema.Schema{}, fmt.Errorf("unknown schema %q, expected one of %v", name, Names)
	}
}

// MarshalIndent renders s as indented JSON.
func MarshalIndent(s jsonschema.Schema, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

func reflectSchema(v any, title, description string) (jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{}
	s, err := reflector.Reflect(v, jsonschema.InlineRefs)
	if err != nil {
		return jsonschema.Schema{}, fmt.Errorf("failed to generate schema: %w", err)
	}

	draft := Draft
	s.Schema = &draft
	s.Title = &title
	s.Description = &description
	return s, nil
}
