package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema describes the JSON config file format.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Config{})
	schema.Title = "voicestream configuration"
	return json.MarshalIndent(schema, "", "  ")
}
