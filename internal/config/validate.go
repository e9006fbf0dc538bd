package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateAgainstSchema checks instance against the given JSON schema
// source and returns a descriptive error instead of aborting the
// process directly: Init decides that a validation failure is a
// startup-fatal condition (spec §7), but returning an error here keeps
// this function testable on its own.
func validateAgainstSchema(schemaSource string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("schema.json", schemaSource)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(instance, &decoded); err != nil {
		return fmt.Errorf("decoding instance for validation: %w", err)
	}

	if err := sch.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
