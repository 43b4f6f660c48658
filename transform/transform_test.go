package transform_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/store/memory"
	"github.com/hookpipe/hookpipe/transform"
)

func testEvent(payload string) *event.Event {
	return &event.Event{
		SourceID: 1,
		TenantID: "tenant_1",
		Type:     "invoice.created",
		Payload:  json.RawMessage(payload),
	}
}

func mappingRule(mappings []rule.FieldMapping, static map[string]any) *rule.Rule {
	return &rule.Rule{
		TenantID: "tenant_1",
		Transform: rule.TransformConfig{
			Kind:     rule.TransformMapping,
			Mappings: mappings,
			Static:   static,
		},
	}
}

func TestApplyNonePassesThrough(t *testing.T) {
	tr := transform.New(nil, nil, nil)
	evt := testEvent(`{"a":1}`)

	out, err := tr.Apply(context.Background(), &rule.Rule{}, evt)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if string(out.Body) != `{"a":1}` {
		t.Errorf("Body = %s, want payload unchanged", out.Body)
	}
}

func TestApplyMapping(t *testing.T) {
	tr := transform.New(nil, nil, nil)
	r := mappingRule([]rule.FieldMapping{
		{SourcePath: "invoice.id", TargetPath: "ref"},
		{SourcePath: "invoice.total", TargetPath: "amount.value"},
	}, nil)
	evt := testEvent(`{"invoice":{"id":"inv_1","total":9900}}`)

	out, err := tr.Apply(context.Background(), r, evt)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(out.Body, &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["ref"] != "inv_1" {
		t.Errorf("ref = %v, want inv_1", body["ref"])
	}
	amount, _ := body["amount"].(map[string]any)
	if amount["value"] != float64(9900) {
		t.Errorf("amount.value = %v, want 9900", amount["value"])
	}
}

func TestApplyMappingMissingField(t *testing.T) {
	tr := transform.New(nil, nil, nil)
	r := mappingRule([]rule.FieldMapping{
		{SourcePath: "absent", TargetPath: "omitted"},
		{SourcePath: "also_absent", TargetPath: "defaulted", Default: "fallback"},
	}, nil)

	out, err := tr.Apply(context.Background(), r, testEvent(`{}`))
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	var body map[string]any
	_ = json.Unmarshal(out.Body, &body)
	if _, ok := body["omitted"]; ok {
		t.Error("missing source without default was not omitted")
	}
	if body["defaulted"] != "fallback" {
		t.Errorf("defaulted = %v, want fallback", body["defaulted"])
	}
}

func TestApplyMappingStaticFields(t *testing.T) {
	tr := transform.New(nil, nil, nil)
	r := mappingRule(
		[]rule.FieldMapping{{SourcePath: "kind", TargetPath: "source"}},
		map[string]any{"source": "static", "version": float64(2)},
	)

	out, err := tr.Apply(context.Background(), r, testEvent(`{"kind":"event"}`))
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	var body map[string]any
	_ = json.Unmarshal(out.Body, &body)
	// Explicit mappings override statics on the same path.
	if body["source"] != "event" {
		t.Errorf("source = %v, want mapping to win over static", body["source"])
	}
	if body["version"] != float64(2) {
		t.Errorf("version = %v, want 2", body["version"])
	}
}

func TestApplyMappingCoercions(t *testing.T) {
	tr := transform.New(nil, nil, nil)

	tests := []struct {
		name    string
		mapping rule.FieldMapping
		payload string
		want    any
	}{
		{"number to string", rule.FieldMapping{SourcePath: "n", TargetPath: "out", Coerce: rule.CoerceString}, `{"n":42}`, "42"},
		{"string to number", rule.FieldMapping{SourcePath: "s", TargetPath: "out", Coerce: rule.CoerceNumber}, `{"s":"3.5"}`, float64(3.5)},
		{"string to bool", rule.FieldMapping{SourcePath: "b", TargetPath: "out", Coerce: rule.CoerceBoolean}, `{"b":"true"}`, true},
		{"number to bool", rule.FieldMapping{SourcePath: "b", TargetPath: "out", Coerce: rule.CoerceBoolean}, `{"b":0}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mappingRule([]rule.FieldMapping{tt.mapping}, nil)
			out, err := tr.Apply(context.Background(), r, testEvent(tt.payload))
			if err != nil {
				t.Fatalf("Apply() error: %v", err)
			}

			var body map[string]any
			_ = json.Unmarshal(out.Body, &body)
			if body["out"] != tt.want {
				t.Errorf("out = %v (%T), want %v (%T)", body["out"], body["out"], tt.want, tt.want)
			}
		})
	}
}

func TestApplyMappingBadNumberCoercion(t *testing.T) {
	tr := transform.New(nil, nil, nil)
	r := mappingRule([]rule.FieldMapping{
		{SourcePath: "s", TargetPath: "out", Coerce: rule.CoerceNumber},
	}, nil)

	_, err := tr.Apply(context.Background(), r, testEvent(`{"s":"not a number"}`))
	var terr *transform.Error
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *transform.Error", err)
	}
	if terr.Stage != "mapping" {
		t.Errorf("Stage = %q, want mapping", terr.Stage)
	}
}

func TestApplyMappingLookup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if err := store.UpsertLookupTable(ctx, &transform.LookupTable{
		TenantID:   "tenant_1",
		Name:       "carriers",
		Entries:    map[string]string{"01": "ups", "02": "fedex"},
		OnUnmapped: transform.UnmappedFail,
	}); err != nil {
		t.Fatalf("UpsertLookupTable() error: %v", err)
	}

	tr := transform.New(store, nil, nil)
	r := mappingRule([]rule.FieldMapping{
		{SourcePath: "carrier", TargetPath: "carrier", Coerce: rule.CoerceLookup, LookupTable: "carriers"},
	}, nil)

	out, err := tr.Apply(ctx, r, testEvent(`{"carrier":"02"}`))
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	var body map[string]any
	_ = json.Unmarshal(out.Body, &body)
	if body["carrier"] != "fedex" {
		t.Errorf("carrier = %v, want fedex", body["carrier"])
	}

	// Unknown code under the fail policy is a transform error.
	_, err = tr.Apply(ctx, r, testEvent(`{"carrier":"99"}`))
	var terr *transform.Error
	if !errors.As(err, &terr) || terr.Stage != "lookup" {
		t.Errorf("error = %v, want lookup-stage transform error", err)
	}
}

func TestApplyScriptNoRunner(t *testing.T) {
	tr := transform.New(nil, nil, nil)
	r := &rule.Rule{Transform: rule.TransformConfig{Kind: rule.TransformScript, Script: "return payload"}}

	_, err := tr.Apply(context.Background(), r, testEvent(`{}`))
	var terr *transform.Error
	if !errors.As(err, &terr) || terr.Stage != "script" {
		t.Errorf("error = %v, want script-stage transform error", err)
	}
}

func TestLookupTableResolve(t *testing.T) {
	tests := []struct {
		name    string
		table   transform.LookupTable
		code    string
		want    string
		wantErr bool
	}{
		{
			"mapped code",
			transform.LookupTable{Entries: map[string]string{"a": "alpha"}},
			"a", "alpha", false,
		},
		{
			"passthrough",
			transform.LookupTable{OnUnmapped: transform.UnmappedPassthrough},
			"x", "x", false,
		},
		{
			"empty policy defaults to passthrough",
			transform.LookupTable{},
			"x", "x", false,
		},
		{
			"default value",
			transform.LookupTable{OnUnmapped: transform.UnmappedDefault, DefaultValue: "other"},
			"x", "other", false,
		},
		{
			"fail",
			transform.LookupTable{Name: "t", OnUnmapped: transform.UnmappedFail},
			"x", "", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.table.Resolve(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
