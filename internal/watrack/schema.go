package watrack

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Candidate webhook bodies are gated by a schema instead of ad-hoc type
// switches: the only structural commitment the upstream makes is that
// "statuses", when present, is an array. Anything looser is handled by the
// walk itself; anything violating this is skipped, never an error.
const webhookBodySchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"statuses": {
			"type": "array"
		}
	}
}`

var webhookBodySchema = mustCompileWebhookBodySchema()

func mustCompileWebhookBodySchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookBodySchemaJSON))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("watrack://webhook-body.json", doc); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("watrack://webhook-body.json")
	if err != nil {
		panic(err)
	}
	return schema
}

func isValidWebhookBody(body map[string]any) bool {
	return webhookBodySchema.Validate(map[string]any(body)) == nil
}
