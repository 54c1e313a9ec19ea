package quote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Import documents are either a bare quote array or an object wrapping
// one under "quotes", which is what the export endpoint produces.
const importSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {"$ref": "#/$defs/quoteList"},
    {
      "type": "object",
      "required": ["quotes"],
      "properties": {"quotes": {"$ref": "#/$defs/quoteList"}}
    }
  ],
  "$defs": {
    "quoteList": {"type": "array", "items": {"$ref": "#/$defs/quote"}},
    "quote": {
      "type": "object",
      "required": ["id", "text"],
      "properties": {
        "id": {"type": "integer", "minimum": 1},
        "text": {"type": "string", "minLength": 1},
        "category": {"type": "string"}
      }
    }
  }
}`

var (
	importSchemaOnce sync.Once
	importSchema     *jsonschema.Schema
	importSchemaErr  error
)

func compiledImportSchema() (*jsonschema.Schema, error) {
	importSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(importSchemaJSON))
		if err != nil {
			importSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("quoterelay-import.json", doc); err != nil {
			importSchemaErr = err
			return
		}
		importSchema, importSchemaErr = compiler.Compile("quoterelay-import.json")
	})
	return importSchema, importSchemaErr
}

// ParseDocument validates an import document against the schema and
// returns its quotes, normalized. Records failing Validate after
// normalization are rejected rather than silently dropped.
func ParseDocument(data []byte) ([]Quote, error) {
	schema, err := compiledImportSchema()
	if err != nil {
		return nil, err
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}

	var wrapped struct {
		Quotes []Quote `json:"quotes"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Quotes != nil {
		return normalizeAll(wrapped.Quotes)
	}
	var quotes []Quote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	return normalizeAll(quotes)
}

func normalizeAll(quotes []Quote) ([]Quote, error) {
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		q = Normalize(q)
		if err := Validate(q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Document renders quotes as the canonical export payload.
func Document(quotes []Quote) ([]byte, error) {
	payload := struct {
		Quotes []Quote `json:"quotes"`
	}{Quotes: quotes}
	if payload.Quotes == nil {
		payload.Quotes = []Quote{}
	}
	return json.MarshalIndent(payload, "", "  ")
}
