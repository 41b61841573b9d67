package nlp

import (
	"bytes"
	"encoding/json"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed intent_schema.json
var intentSchemaJSON []byte

// intentSchema is compiled once at init; the schema is embedded and a
// compile failure is a programming error.
var intentSchema = mustCompileIntentSchema()

func mustCompileIntentSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("intent_schema.json", bytes.NewReader(intentSchemaJSON)); err != nil {
		panic(fmt.Sprintf("nlp: add intent schema resource: %v", err))
	}
	return compiler.MustCompile("intent_schema.json")
}

// validateIntentJSON checks that raw is a JSON document matching the
// classification output schema. This rejects phantom intents and
// wrong-typed fields before they are unmarshalled into a ClassifyResponse.
func validateIntentJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := intentSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
