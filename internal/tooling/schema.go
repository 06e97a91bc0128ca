package tooling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/invopop/jsonschema"
	jsonschemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaReflector is shared across tool constructors so repeated calls to
// BuildSchema reuse one $defs-inlining configuration.
var schemaReflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

// BuildSchema reflects a Go parameter struct into a normalized JSON Schema
// object suitable for every provider dialect this module supports: no
// "$schema"/"title" leakage, no nullable unions, and no empty "required"
// array. Providers that reject unknown keywords (e.g. strict function-call
// schemas) only ever see the output of this function, never a raw
// jsonschema.Reflector dump.
func BuildSchema(paramsStruct any) json.RawMessage {
	schema := schemaReflector.Reflect(paramsStruct)
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	normalize(generic)

	out, err := json.Marshal(generic)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return out
}

// normalize strips fields providers commonly choke on and drops an empty
// "required" array (some strict-mode providers reject a present-but-empty
// required list).
func normalize(m map[string]any) {
	delete(m, "$schema")
	delete(m, "title")
	delete(m, "$id")
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if req, ok := m["required"].([]any); ok && len(req) == 0 {
		delete(m, "required")
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for _, v := range props {
			if child, ok := v.(map[string]any); ok {
				delete(child, "title")
			}
		}
	}
}

// ValidateAgainstSchema compiles schema and validates args against it,
// returning a descriptive error on the first violation. Used by the
// registry at dispatch time, ahead of unmarshalling args into a typed
// parameter struct, so providers get the same validation errors regardless
// of dialect.
func ValidateAgainstSchema(schema json.RawMessage, args json.RawMessage) error {
	compiler := jsonschemavalidate.NewCompiler()
	if err := compiler.AddResource("schema.json", mustReader(schema)); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func mustReader(b json.RawMessage) io.Reader {
	return bytes.NewReader(b)
}
