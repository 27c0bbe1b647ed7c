package wire

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed countbatch.schema.json
var countBatchSchema []byte

const schemaURL = "https://toma-inventario.local/countbatch.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(countBatchSchema))
		if err != nil {
			schemaErr = fmt.Errorf("leer esquema de lote: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("registrar esquema de lote: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Marshal serializa el lote y lo valida contra el esquema embebido.
func Marshal(b CountBatch) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("serializar lote: %w", err)
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ValidatePayload valida un lote ya serializado.
func ValidatePayload(payload []byte) error {
	sch, err := compiled()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("leer lote: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("lote no cumple el esquema: %w", err)
	}
	return nil
}
