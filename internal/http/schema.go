package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/open-oni/oni-admin/internal/apperr"
)

const maxBodyBytes = 64 * 1024

const loadRequestSchema = `{
	"type": "object",
	"required": ["batch_path"],
	"properties": {
		"batch_path": {"type": "string", "minLength": 1}
	}
}`

const purgeRequestSchema = `{
	"type": "object",
	"required": ["batch_name"],
	"properties": {
		"batch_name": {"type": "string", "minLength": 1}
	}
}`

type requestSchemas struct {
	load  *jsonschema.Schema
	purge *jsonschema.Schema
}

func compileSchemas() (*requestSchemas, error) {
	compiler := jsonschema.NewCompiler()
	resources := map[string]string{
		"load.json":  loadRequestSchema,
		"purge.json": purgeRequestSchema,
	}
	for name, schema := range resources {
		if err := compiler.AddResource(name, bytes.NewReader([]byte(schema))); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	load, err := compiler.Compile("load.json")
	if err != nil {
		return nil, fmt.Errorf("compile load schema: %w", err)
	}
	purge, err := compiler.Compile("purge.json")
	if err != nil {
		return nil, fmt.Errorf("compile purge schema: %w", err)
	}
	return &requestSchemas{load: load, purge: purge}, nil
}

// decodeBody validates the JSON request body against schema and decodes it into dst.
func decodeBody(r *http.Request, schema *jsonschema.Schema, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.InvalidInput("Invalid request body: %v", err)
	}
	if len(data) > maxBodyBytes {
		return apperr.InvalidInput("Invalid request body: larger than %d bytes", maxBodyBytes)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return apperr.InvalidInput("Invalid request body: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return apperr.InvalidInput("Invalid request body: %s", validationMessage(err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.InvalidInput("Invalid request body: %v", err)
	}
	return nil
}

// validationMessage returns the most specific message of a schema validation error.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.Message
}
