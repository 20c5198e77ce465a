package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// nullable lets an optional field be sent as JSON null, which clients
// written against the original relay do for absent values.
func nullable(kind string, extra map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"type": []string{kind, "null"}}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

var fileProperties = map[string]interface{}{
	"filename": nullable("string", nil),
	"mimetype": nullable("string", nil),
	"base64":   map[string]interface{}{"type": "string", "minLength": 1},
}

var fileSchema = map[string]interface{}{
	"type":       "object",
	"properties": fileProperties,
	"required":   []string{"base64"},
}

var optionalFiles = nullable("array", map[string]interface{}{"items": fileSchema})

var requestSchemas = map[string]map[string]interface{}{
	"send-to-group": {
		"type": "object",
		"properties": map[string]interface{}{
			"groupName": map[string]interface{}{"type": "string", "minLength": 1},
			"message":   map[string]interface{}{"type": "string", "minLength": 1},
			"files":     optionalFiles,
		},
		"required": []string{"groupName", "message"},
	},
	"send-to-user": {
		"type": "object",
		"properties": map[string]interface{}{
			"phoneNumber": map[string]interface{}{"type": "string", "minLength": 1},
			"message":     map[string]interface{}{"type": "string", "minLength": 1},
			"files":       optionalFiles,
		},
		"required": []string{"phoneNumber", "message"},
	},
	"reply-to-message": {
		"type": "object",
		"properties": map[string]interface{}{
			"phoneNumber": map[string]interface{}{"type": "string", "minLength": 1},
			"message":     nullable("string", nil),
			"file": nullable("object", map[string]interface{}{
				"properties": fileProperties,
				"required":   []string{"base64"},
			}),
			"quotedMessageId": nullable("string", nil),
			"quotedMsgId":     nullable("string", nil),
			"returnMsgId":     nullable("boolean", nil),
		},
		"required": []string{"phoneNumber"},
		// A null message or file does not count as content.
		"anyOf": []interface{}{
			map[string]interface{}{
				"required":   []string{"message"},
				"properties": map[string]interface{}{"message": map[string]interface{}{"type": "string", "minLength": 1}},
			},
			map[string]interface{}{
				"required":   []string{"file"},
				"properties": map[string]interface{}{"file": map[string]interface{}{"type": "object"}},
			},
		},
	},
}

// validators holds compiled request schemas by endpoint name.
type validators map[string]*gojsonschema.Schema

func compileSchemas() (validators, error) {
	out := make(validators, len(requestSchemas))
	for name, def := range requestSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		out[name] = schema
	}
	return out, nil
}

// validate checks raw JSON against the named schema.
func (v validators) validate(name string, raw []byte) error {
	schema, ok := v[name]
	if !ok {
		return fmt.Errorf("no schema for %s", name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
