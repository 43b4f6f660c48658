package delivery

import (
	"encoding/json"
	"testing"
)

func TestValidateNoSchema(t *testing.T) {
	v := NewValidator()
	if err := v.Validate(nil, json.RawMessage(`{"anything":true}`)); err != nil {
		t.Errorf("Validate() with nil schema: %v", err)
	}
}

func TestValidate(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["order_id"],
		"properties": {
			"order_id": {"type": "string"},
			"total": {"type": "number", "minimum": 0}
		}
	}`)

	v := NewValidator()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"order_id":"ord_1","total":50}`, false},
		{"missing required", `{"total":50}`, true},
		{"wrong type", `{"order_id":42}`, true},
		{"constraint violation", `{"order_id":"ord_1","total":-1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(schema, json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBadSchema(t *testing.T) {
	v := NewValidator()
	err := v.Validate(json.RawMessage(`{"type": 42}`), json.RawMessage(`{}`))
	if err == nil {
		t.Error("Validate() accepted an invalid schema")
	}
}

func TestValidateCachesCompiledSchemas(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)
	v := NewValidator()

	if err := v.Validate(schema, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("first Validate() error: %v", err)
	}
	if err := v.Validate(schema, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("second Validate() error: %v", err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(v.cache))
	}
}
