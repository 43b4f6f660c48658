// Package hookpipe provides a composable multi-tenant event delivery
// gateway for Go.
//
// Hookpipe is a library, not a service. Import it into your application
// to poll events out of a checkpointed source, match them against
// tenant-scoped delivery rules, transform payloads declaratively or
// with sandboxed Lua scripts, and deliver them over signed HTTP with
// classified retries, rate limiting, scheduling, and a replayable dead
// letter queue.
//
// Quick start:
//
//	gw, err := hookpipe.New(
//	    hookpipe.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gw.Rules().Create(ctx, rule.Input{
//	    TenantID:  "tenant_123",
//	    EventType: "invoice.created",
//	    URL:       "https://example.com/hooks",
//	})
//
//	gw.Start(ctx)
//	defer gw.Stop(ctx)
//
//	gw.Ingest(ctx, &event.Event{
//	    TenantID: "tenant_123",
//	    Type:     "invoice.created",
//	    Payload:  json.RawMessage(`{"invoice_id":"inv_01h"}`),
//	})
package hookpipe
