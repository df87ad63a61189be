package actor

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateAgainstSchema validates instanceJSON against schemaJSON, if a
// schema is declared (spec.md §3 "input_schema"/"plugin_config_schema"); an
// empty schema is treated as "no constraint", matching the teacher's
// validatePayloadJSONAgainstSchema helper. A violation is reported as a
// plain error so the caller wraps it in the Validation error class (§7).
func validateAgainstSchema(instanceJSON, schemaJSON json.RawMessage) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	var instanceDoc any
	if len(instanceJSON) > 0 {
		if err := json.Unmarshal(instanceJSON, &instanceDoc); err != nil {
			return fmt.Errorf("unmarshal instance: %w", err)
		}
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(instanceDoc)
}
