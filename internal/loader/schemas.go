package loader

import "github.com/santhosh-tekuri/jsonschema/v5"

// File-name fields reject characters that are unsafe on any supported
// filesystem, plus leading/trailing spaces and dots. The pattern is written
// in JSON-escaped form because it is spliced into the schema documents.
const safeNamePattern = `^[^<>:\"/\\\\|?*\r\n .]([^<>:\"/\\\\|?*\r\n]*[^<>:\"/\\\\|?*\r\n .])?$`

const versionsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "patternProperties": {
    "^.*$": {
      "type": "object",
      "properties": {
        "folder": {"type": "string", "pattern": "` + safeNamePattern + `"},
        "folder_alias": {"type": "string", "pattern": "` + safeNamePattern + `"}
      },
      "required": ["folder"],
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

const recipeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "recipe_type": {"type": "string", "enum": ["python"]},
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"type": {"enum": ["fetch", "build"]}},
        "required": ["type"],
        "allOf": [
          {
            "if": {"properties": {"type": {"const": "fetch"}}},
            "then": {
              "properties": {
                "type": {},
                "url": {"type": "string", "pattern": "^https?://.+$"},
                "file_name": {"type": "string", "pattern": "` + safeNamePattern + `"}
              },
              "required": ["type", "url"],
              "additionalProperties": false
            }
          },
          {
            "if": {"properties": {"type": {"const": "build"}}},
            "then": {
              "properties": {
                "type": {},
                "recipe_name": {"type": "string", "pattern": "` + safeNamePattern + `"},
                "version": {"type": "string"}
              },
              "required": ["type", "recipe_name", "version"],
              "additionalProperties": false
            }
          }
        ]
      }
    },
    "outputs": {"type": "array", "items": {"type": "string"}},
    "limits": {
      "type": "object",
      "properties": {
        "memory": {"type": "string"},
        "cpus": {"type": "number", "minimum": 0},
        "timeout": {"type": "string"},
        "network": {"type": "string", "enum": ["none", "allowlist"]},
        "allowed_hosts": {"type": "array", "items": {"type": "string"}}
      },
      "additionalProperties": false
    }
  },
  "required": ["recipe_type", "dependencies"],
  "additionalProperties": false
}`

var (
	versionsSchema = jsonschema.MustCompileString("versions.schema.json", versionsSchemaJSON)
	recipeSchema   = jsonschema.MustCompileString("recipe.schema.json", recipeSchemaJSON)
)
