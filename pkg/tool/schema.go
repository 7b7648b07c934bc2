package tool

import (
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// BuildSchema renders a ToolDefinition's parameters as the JSON-schema
// fragment handed to the external LLM client's function-calling surface
// (§4.5). Only request-scoped and context-scoped parameters that the
// model is expected to fill in are included — the schema says nothing
// about scope or sharing, which are core-internal routing concerns.
func BuildSchema(def model.ToolDefinition) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string

	for _, p := range def.Parameters {
		props.Set(p.Name, &jsonschema.Schema{
			Type:        "string",
			Description: p.Description,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return &jsonschema.Schema{
		Type:        "object",
		Title:       def.Name,
		Description: def.Description,
		Properties:  props,
		Required:    required,
	}
}
