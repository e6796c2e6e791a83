package chatmem

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// entrySchema describes the persisted record shapes. Only fields whose type
// would break decoding are constrained; unknown fields are allowed so newer
// writers do not invalidate older readers.
const entrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "stamp": {"type": ["integer", "number", "string", "null"]},
    "nullableIndex": {"type": ["integer", "null"]},
    "strings": {"type": ["array", "null"], "items": {"type": "string"}},
    "summary": {
      "type": "object",
      "properties": {
        "messageIndex": {"type": "integer"},
        "content": {"type": "string"},
        "timestamp": {"$ref": "#/$defs/stamp"},
        "pinned": {"type": "boolean"},
        "invalidated": {"type": "boolean"},
        "invalidReason": {"type": "string"},
        "migratedFrom": {"type": "string"}
      }
    },
    "legacy": {
      "type": "object",
      "required": ["content"],
      "properties": {
        "order": {"type": "integer"},
        "content": {"type": "string"},
        "timestamp": {"$ref": "#/$defs/stamp"},
        "importedFrom": {"type": "string"},
        "originalIndex": {"$ref": "#/$defs/nullableIndex"},
        "importDate": {"$ref": "#/$defs/stamp"}
      }
    },
    "character": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "role": {"type": "string"},
        "age": {"type": ["string", "integer"]},
        "occupation": {"type": "string"},
        "description": {"type": "string"},
        "traits": {"$ref": "#/$defs/strings"},
        "relationshipWithUser": {"type": "string"},
        "firstAppearance": {"$ref": "#/$defs/nullableIndex"},
        "createdAt": {"$ref": "#/$defs/stamp"},
        "lastUpdate": {"$ref": "#/$defs/stamp"}
      }
    },
    "event": {
      "type": "object",
      "required": ["title"],
      "properties": {
        "id": {"type": "string"},
        "title": {"type": "string"},
        "description": {"type": "string"},
        "messageIndex": {"$ref": "#/$defs/nullableIndex"},
        "participants": {"$ref": "#/$defs/strings"},
        "importance": {"type": "string"},
        "createdAt": {"$ref": "#/$defs/stamp"},
        "updatedAt": {"$ref": "#/$defs/stamp"}
      }
    },
    "item": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "description": {"type": "string"},
        "owner": {"type": "string"},
        "origin": {"type": "string"},
        "status": {"type": "string"},
        "messageIndex": {"$ref": "#/$defs/nullableIndex"},
        "createdAt": {"$ref": "#/$defs/stamp"},
        "updatedAt": {"$ref": "#/$defs/stamp"}
      }
    }
  }
}`

const schemaURL = "chatmem.json"

type recordSchemas struct {
	summary, legacy, character, event, item *jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     recordSchemas
	schemasErr  error
)

func loadSchemas() (recordSchemas, error) {
	schemasOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(entrySchema))
		if err != nil {
			schemasErr = fmt.Errorf("chatmem: unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemasErr = fmt.Errorf("chatmem: add schema: %w", err)
			return
		}
		compile := func(def string) *jsonschema.Schema {
			if schemasErr != nil {
				return nil
			}
			s, err := c.Compile(schemaURL + "#/$defs/" + def)
			if err != nil {
				schemasErr = fmt.Errorf("chatmem: compile %s: %w", def, err)
			}
			return s
		}
		schemas = recordSchemas{
			summary:   compile("summary"),
			legacy:    compile("legacy"),
			character: compile("character"),
			event:     compile("event"),
			item:      compile("item"),
		}
	})
	return schemas, schemasErr
}

// validateRecord checks raw against s. A nil schema accepts everything so a
// broken embedded schema degrades to decode-only validation.
func validateRecord(s *jsonschema.Schema, raw []byte) error {
	if s == nil {
		return nil
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return s.Validate(v)
}
