package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains JSON config documents before decoding. TOML and
// YAML configs rely on strict struct decoding instead.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "watch": {
      "type": "object",
      "properties": {
        "roots": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "include_extensions": {"type": "array", "items": {"type": "string", "pattern": "^\\."}},
        "ignore_dirs": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "debounce_ms": {"type": "integer", "minimum": 50, "maximum": 60000},
        "max_file_size": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "sampler": {
      "type": "object",
      "properties": {
        "poll_interval_sec": {"type": "integer", "minimum": 1},
        "idle_threshold_min": {"type": "integer", "minimum": 1},
        "track_applications": {"type": "boolean"},
        "track_websites": {"type": "boolean"},
        "probe_timeout_ms": {"type": "integer", "minimum": 100}
      },
      "additionalProperties": false
    },
    "storage": {
      "type": "object",
      "properties": {
        "path": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "warning", "error"]},
        "format": {"enum": ["text", "json"]},
        "output": {"enum": ["stdout", "stderr", "file", "both"]},
        "file_path": {"type": "string"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("config.schema.json", configSchema)

// validateJSONDocument checks raw JSON config bytes against the embedded
// schema, yielding location-qualified errors before struct decoding.
func validateJSONDocument(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parse JSON config: %w", err)
	}

	if err := compiledSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("config schema: %s", strings.TrimSpace(ve.Error()))
		}
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
