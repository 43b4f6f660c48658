package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/rule"
)

// applyMapping builds the outbound body from the rule's ordered field
// mappings plus static fields. Missing source fields resolve to the
// mapping's default or are omitted; absence is never an error.
func (t *Transformer) applyMapping(ctx context.Context, r *rule.Rule, evt *event.Event) ([]byte, error) {
	body := []byte(`{}`)

	// Static fields first so explicit mappings can override them.
	for key, value := range r.Transform.Static {
		var err error
		body, err = sjson.SetBytes(body, key, value)
		if err != nil {
			return nil, &Error{Stage: "mapping", Err: fmt.Errorf("static field %q: %w", key, err)}
		}
	}

	for _, m := range r.Transform.Mappings {
		result := gjson.GetBytes(evt.Payload, m.SourcePath)

		var value any
		switch {
		case result.Exists():
			value = result.Value()
		case m.Default != nil:
			value = m.Default
		default:
			continue // omitted, by contract
		}

		coerced, err := t.coerce(ctx, r.TenantID, m, value)
		if err != nil {
			return nil, err
		}

		body, err = sjson.SetBytes(body, m.TargetPath, coerced)
		if err != nil {
			return nil, &Error{Stage: "mapping", Err: fmt.Errorf("target path %q: %w", m.TargetPath, err)}
		}
	}

	return body, nil
}

// coerce applies the optional per-field coercion. Exhaustive over CoerceKind.
func (t *Transformer) coerce(ctx context.Context, tenantID string, m rule.FieldMapping, value any) (any, error) {
	switch m.Coerce {
	case rule.CoerceNone:
		return value, nil

	case rule.CoerceString:
		return coerceString(value), nil

	case rule.CoerceNumber:
		return coerceNumber(value)

	case rule.CoerceBoolean:
		return coerceBoolean(value), nil

	case rule.CoerceLookup:
		if t.lookups == nil {
			return nil, &Error{Stage: "lookup", Err: fmt.Errorf("no lookup store configured")}
		}
		table, err := t.lookups.GetLookupTable(ctx, tenantID, m.LookupTable)
		if err != nil {
			return nil, &Error{Stage: "lookup", Err: fmt.Errorf("table %q: %w", m.LookupTable, err)}
		}
		mapped, err := table.Resolve(coerceString(value))
		if err != nil {
			return nil, &Error{Stage: "lookup", Err: err}
		}
		return mapped, nil

	default:
		return nil, &Error{Stage: "mapping", Err: fmt.Errorf("unknown coercion %q", m.Coerce)}
	}
}

func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func coerceNumber(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, &Error{Stage: "mapping", Err: fmt.Errorf("coerce %q to number: %w", v, err)}
		}
		return n, nil
	case bool:
		if v {
			return float64(1), nil
		}
		return float64(0), nil
	default:
		return nil, &Error{Stage: "mapping", Err: fmt.Errorf("cannot coerce %T to number", value)}
	}
}

func coerceBoolean(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case float64:
		return v != 0
	default:
		return false
	}
}
