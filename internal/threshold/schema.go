package threshold

import (
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "schema://threshold-document.json"

// documentSchema constrains the document shape. Tiling and severity
// invariants need cross-field checks and are enforced by New.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"$ref": "#/$defs/question"}
    },
    "label_merges": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "range": {
      "type": "array",
      "minItems": 2,
      "maxItems": 2,
      "items": {"type": "integer", "minimum": 0, "maximum": 100}
    },
    "side": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"$ref": "#/$defs/range"}
    },
    "question": {
      "type": "object",
      "required": ["sides"],
      "properties": {
        "severity": {
          "type": "array",
          "items": {"type": "string", "minLength": 1},
          "uniqueItems": true
        },
        "sides": {
          "type": "object",
          "minProperties": 1,
          "propertyNames": {"enum": ["top", "bottom", "left", "right", "back", "front"]},
          "additionalProperties": {"$ref": "#/$defs/side"}
        }
      },
      "additionalProperties": false
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var def any
		if err := json.Unmarshal([]byte(documentSchema), &def); err != nil {
			schemaErr = eris.Wrap(err, "threshold: parse schema")
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, def); err != nil {
			schemaErr = eris.Wrap(err, "threshold: add schema resource")
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = eris.Wrap(schemaErr, "threshold: compile schema")
		}
	})
	return compiledSchema, schemaErr
}

// validateSchema checks a JSON-decoded document against documentSchema.
func validateSchema(doc any) error {
	schema, err := getSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return eris.Wrap(err, "threshold: document does not match schema")
	}
	return nil
}
