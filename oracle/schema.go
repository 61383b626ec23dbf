package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	suggestionSchema = mustCompile("suggestion.json", `{
		"type": "object",
		"required": ["refactored_code"],
		"properties": {
			"refactored_code": {"type": "string"},
			"explanation": {"type": "string"}
		}
	}`)

	correctionSchema = mustCompile("correction.json", `{
		"type": "object",
		"required": ["corrected_code"],
		"properties": {
			"corrected_code": {"type": "string"}
		}
	}`)

	optimizationSchema = mustCompile("optimization.json", `{
		"type": "object",
		"required": ["optimized_code"],
		"properties": {
			"optimized_code": {"type": "string", "minLength": 1},
			"explanation": {"type": "string"},
			"original_complexity": {"type": "string"}
		}
	}`)

	findingSchema = mustCompile("finding.json", `{
		"type": "object",
		"required": ["issue_found"],
		"properties": {
			"issue_found": {"type": "boolean"},
			"description": {"type": "string"},
			"code_snippet": {"type": "string"}
		},
		"if": {"properties": {"issue_found": {"const": true}}},
		"then": {"required": ["code_snippet"]}
	}`)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("oracle: adding schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("oracle: compiling schema %s: %v", name, err))
	}
	return s
}

// decode extracts the JSON object from raw, validates it against schema and
// unmarshals it into out.
func decode(raw string, schema *jsonschema.Schema, out any) error {
	body := extractJSON(raw)
	if body == "" {
		return fmt.Errorf("no JSON object in response")
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if obj, ok := doc.(map[string]any); ok {
		if msg, ok := obj["error"]; ok {
			return fmt.Errorf("provider returned error: %v", msg)
		}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// extractJSON returns the outermost JSON object in raw, tolerating markdown
// fences and chatter around it.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
