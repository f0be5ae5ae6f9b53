package evidence

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// recordsSchema is the declared shape of the evidence extraction output.
// Responses are validated against it before being accepted; a violation
// escalates to the fallback model tier.
const recordsSchema = `{
  "type": "object",
  "required": ["records"],
  "properties": {
    "records": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["item_id", "quotations"],
        "properties": {
          "item_id": {"type": "string", "minLength": 1},
          "quotations": {
            "type": "array",
            "items": {"type": "string"}
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(recordsSchema)

// validateRecordsJSON checks raw JSON against the evidence output schema.
func validateRecordsJSON(raw string) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("response violates evidence schema: %v", result.Errors())
	}
	return nil
}
