package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DocumentSchema is the JSON Schema the config file is checked against
// before unmarshalling, so shape errors surface with field paths instead of
// mapstructure noise.
const DocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "workspace": {
      "type": "string"
    },
    "memory": {
      "type": "object",
      "properties": {
        "mode": {
          "type": "string",
          "enum": ["keyword", "fts", "vector", "hybrid"]
        },
        "max_results": {
          "type": "integer",
          "minimum": 0
        },
        "min_score": {
          "type": "number",
          "minimum": 0,
          "maximum": 1
        },
        "vector_weight": {
          "type": "number",
          "minimum": 0
        },
        "fts_weight": {
          "type": "number",
          "minimum": 0
        },
        "transcripts_enabled": {
          "type": "boolean"
        },
        "retention_days": {
          "type": "integer",
          "minimum": 1
        },
        "watch": {
          "type": "boolean"
        }
      }
    },
    "database": {
      "type": "object",
      "properties": {
        "url": {
          "type": "string"
        },
        "schema": {
          "type": "string",
          "pattern": "^[a-z_][a-z0-9_]*$"
        }
      }
    },
    "providers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "base_url", "model"],
        "properties": {
          "name": {
            "type": "string",
            "minLength": 1
          },
          "base_url": {
            "type": "string",
            "minLength": 1
          },
          "api_key": {
            "type": "string"
          },
          "model": {
            "type": "string",
            "minLength": 1
          }
        }
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {
          "type": "string",
          "enum": ["trace", "debug", "info", "warn", "error"]
        },
        "file": {
          "type": "string"
        },
        "pretty": {
          "type": "boolean"
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(DocumentSchema)

// validateDocument checks raw config JSON against DocumentSchema
func validateDocument(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("config schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}
