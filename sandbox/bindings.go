package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	lua "github.com/Shopify/go-lua"

	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/transform"
)

// installBindings registers the host capabilities and the event globals.
func (run *execution) installBindings(l *lua.State, evt *event.Event) {
	// payload: the event payload decoded into a Lua table.
	var payload any
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			payload = string(evt.Payload)
		}
	}
	pushGoValue(l, payload)
	l.SetGlobal("payload")

	// event: envelope metadata only; scripts never see other tenants.
	pushGoValue(l, map[string]any{
		"tenant_id":   evt.TenantID,
		"type":        evt.Type,
		"source_id":   float64(evt.SourceID),
		"occurred_at": evt.OccurredAt.UTC().Format(time.RFC3339),
	})
	l.SetGlobal("event")

	// http: restricted outbound client.
	l.NewTable()
	l.PushGoFunction(func(state *lua.State) int { return run.luaHTTP(state, "GET") })
	l.SetField(-2, "get")
	l.PushGoFunction(func(state *lua.State) int { return run.luaHTTP(state, "POST") })
	l.SetField(-2, "post")
	l.SetGlobal("http")

	// json: encode/decode helpers backed by the host.
	l.NewTable()
	l.PushGoFunction(luaJSONEncode)
	l.SetField(-2, "encode")
	l.PushGoFunction(luaJSONDecode)
	l.SetField(-2, "decode")
	l.SetGlobal("json")

	l.Register("lookup", run.luaLookup)
	l.Register("schedule", run.luaSchedule)
	l.Register("log", run.luaLog)
}

// luaHTTP implements http.get(url [, headers]) and http.post(url, body [, headers]).
// Each call has its own timeout; calls are sequential so scripts can loop
// to enrich payloads, but the per-execution call count is capped.
func (run *execution) luaHTTP(l *lua.State, method string) int {
	if err := run.ctx.Err(); err != nil {
		lua.Errorf(l, "%s", ErrTimeout.Error())
	}

	run.httpCalls++
	if run.httpCalls > run.exec.config.MaxHTTPCalls {
		lua.Errorf(l, "http: call limit of %d exceeded", run.exec.config.MaxHTTPCalls)
	}

	url := lua.CheckString(l, 1)

	var body string
	headerIdx := 2
	if method == "POST" {
		body = lua.CheckString(l, 2)
		headerIdx = 3
	}

	headers := map[string]string{}
	if l.Top() >= headerIdx && l.IsTable(headerIdx) {
		raw, err := toGoValue(l, headerIdx)
		if err == nil {
			if m, ok := raw.(map[string]any); ok {
				for k, v := range m {
					if s, ok := v.(string); ok {
						headers[k] = s
					}
				}
			}
		}
	}

	resp, err := run.exec.client.do(run.ctx, method, url, body, headers)
	if err != nil {
		lua.Errorf(l, "http: %s", err.Error())
	}

	l.NewTable()
	l.PushInteger(resp.status)
	l.SetField(-2, "status")
	l.PushString(resp.body)
	l.SetField(-2, "body")
	pushGoValue(l, resp.headers)
	l.SetField(-2, "headers")
	return 1
}

// luaLookup implements lookup(table, code): tenant-scoped code mapping
// with the table's unmapped-code policy applied host-side.
func (run *execution) luaLookup(l *lua.State) int {
	table := lua.CheckString(l, 1)
	code := lua.CheckString(l, 2)

	if run.exec.lookups == nil {
		lua.Errorf(l, "lookup: no lookup tables configured")
	}

	t, err := run.exec.lookups.GetLookupTable(run.ctx, run.tenantID, table)
	if err != nil {
		lua.Errorf(l, "lookup: table %q: %s", table, err.Error())
	}

	mapped, err := t.Resolve(code)
	if err != nil {
		lua.Errorf(l, "lookup: %s", err.Error())
	}

	l.PushString(mapped)
	return 1
}

// luaSchedule implements schedule(delay_seconds, payload): records a
// deferred delivery request that the host persists after the run.
func (run *execution) luaSchedule(l *lua.State) int {
	delay := lua.CheckInteger(l, 1)
	if delay < 0 {
		lua.Errorf(l, "schedule: delay must be non-negative")
	}

	value, err := toGoValue(l, 2)
	if err != nil {
		lua.Errorf(l, "schedule: %s", err.Error())
	}
	raw, err := json.Marshal(value)
	if err != nil {
		lua.Errorf(l, "schedule: encode payload: %s", err.Error())
	}

	run.schedules = append(run.schedules, transform.ScheduleRequest{
		Delay:   time.Duration(delay) * time.Second,
		Payload: raw,
	})
	return 0
}

// luaLog routes script log lines into the host logger, tagged by tenant.
func (run *execution) luaLog(l *lua.State) int {
	msg := lua.CheckString(l, 1)
	run.exec.logger.InfoContext(run.ctx, "script log", "tenant_id", run.tenantID, "message", msg)
	return 0
}

func luaJSONEncode(l *lua.State) int {
	value, err := toGoValue(l, 1)
	if err != nil {
		lua.Errorf(l, "json.encode: %s", err.Error())
	}
	raw, err := json.Marshal(value)
	if err != nil {
		lua.Errorf(l, "json.encode: %s", err.Error())
	}
	l.PushString(string(raw))
	return 1
}

func luaJSONDecode(l *lua.State) int {
	raw := lua.CheckString(l, 1)
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		lua.Errorf(l, "json.decode: %s", err.Error())
	}
	pushGoValue(l, value)
	return 1
}

// ──────────────────────────────────────────────────
// Lua <-> Go value bridge
// ──────────────────────────────────────────────────

// pushGoValue pushes a JSON-shaped Go value onto the Lua stack.
func pushGoValue(l *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case float64:
		l.PushNumber(v)
	case int:
		l.PushNumber(float64(v))
	case int64:
		l.PushNumber(float64(v))
	case string:
		l.PushString(v)
	case []any:
		l.NewTable()
		for i, item := range v {
			pushGoValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.NewTable()
		for key, item := range v {
			pushGoValue(l, item)
			l.SetField(-2, key)
		}
	case map[string]string:
		l.NewTable()
		for key, item := range v {
			l.PushString(item)
			l.SetField(-2, key)
		}
	default:
		l.PushString(fmt.Sprint(v))
	}
}

// toGoValue converts the Lua value at index into a JSON-shaped Go value.
// index must be an absolute (positive) stack index for table traversal.
func toGoValue(l *lua.State, index int) (any, error) {
	if index < 0 {
		index = l.Top() + index + 1
	}

	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n, nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil, fmt.Errorf("sandbox: unsupported lua type %s", lua.TypeNameOf(l, index))
	}
}

// tableToGo converts a Lua table to a []any when it is a dense 1-based
// array, otherwise to a map[string]any.
func tableToGo(l *lua.State, index int) (any, error) {
	length := l.RawLength(index)

	if length > 0 {
		arr := make([]any, 0, length)
		for i := 1; i <= length; i++ {
			l.RawGetInt(index, i)
			item, err := toGoValue(l, l.Top())
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	m := make(map[string]any)
	l.PushNil()
	for l.Next(index) {
		// key at -2, value at -1
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			key = fmt.Sprintf("%v", n)
		default:
			l.Pop(1)
			continue
		}

		value, err := toGoValue(l, l.Top())
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		m[key] = value
		l.Pop(1)
	}
	return m, nil
}
