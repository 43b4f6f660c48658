package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/ratelimit"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/transform"
)

// --- Rule models ---

// Nested rule descriptors are stored as JSON blobs so the wire shape
// matches the other backends exactly.
type ruleModel struct {
	ID          string          `bson:"_id"`
	TenantID    string          `bson:"tenant_id"`
	Name        string          `bson:"name"`
	EventType   string          `bson:"event_type"`
	URL         string          `bson:"url"`
	Method      string          `bson:"method"`
	ContentType string          `bson:"content_type"`
	Headers     json.RawMessage `bson:"headers,omitempty"`
	Auth        json.RawMessage `bson:"auth"`
	Transform   json.RawMessage `bson:"transform"`
	Mode        json.RawMessage `bson:"mode"`
	Retry       json.RawMessage `bson:"retry"`
	Secrets     []string        `bson:"secrets,omitempty"`
	Schema      json.RawMessage `bson:"schema,omitempty"`
	RateLimit   json.RawMessage `bson:"rate_limit,omitempty"`
	Active      bool            `bson:"active"`
	Version     int             `bson:"version"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

func toRuleModel(r *rule.Rule) (*ruleModel, error) {
	m := &ruleModel{
		ID:          r.ID.String(),
		TenantID:    r.TenantID,
		Name:        r.Name,
		EventType:   r.EventType,
		URL:         r.URL,
		Method:      r.Method,
		ContentType: r.ContentType,
		Secrets:     r.Secrets,
		Schema:      r.Schema,
		Active:      r.Active,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	var err error
	if r.Headers != nil {
		if m.Headers, err = json.Marshal(r.Headers); err != nil {
			return nil, fmt.Errorf("marshal headers: %w", err)
		}
	}
	if m.Auth, err = json.Marshal(r.Auth); err != nil {
		return nil, fmt.Errorf("marshal auth: %w", err)
	}
	if m.Transform, err = json.Marshal(r.Transform); err != nil {
		return nil, fmt.Errorf("marshal transform: %w", err)
	}
	if m.Mode, err = json.Marshal(r.Mode); err != nil {
		return nil, fmt.Errorf("marshal mode: %w", err)
	}
	if m.Retry, err = json.Marshal(r.Retry); err != nil {
		return nil, fmt.Errorf("marshal retry: %w", err)
	}
	if r.RateLimit != nil {
		if m.RateLimit, err = json.Marshal(r.RateLimit); err != nil {
			return nil, fmt.Errorf("marshal rate limit: %w", err)
		}
	}
	return m, nil
}

func fromRuleModel(m *ruleModel) (*rule.Rule, error) {
	ruleID, err := id.ParseRuleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse rule ID %q: %w", m.ID, err)
	}

	r := &rule.Rule{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          ruleID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		EventType:   m.EventType,
		URL:         m.URL,
		Method:      m.Method,
		ContentType: m.ContentType,
		Secrets:     m.Secrets,
		Schema:      m.Schema,
		Active:      m.Active,
		Version:     m.Version,
	}

	if len(m.Headers) > 0 {
		if err := json.Unmarshal(m.Headers, &r.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if err := json.Unmarshal(m.Auth, &r.Auth); err != nil {
		return nil, fmt.Errorf("unmarshal auth: %w", err)
	}
	if err := json.Unmarshal(m.Transform, &r.Transform); err != nil {
		return nil, fmt.Errorf("unmarshal transform: %w", err)
	}
	if err := json.Unmarshal(m.Mode, &r.Mode); err != nil {
		return nil, fmt.Errorf("unmarshal mode: %w", err)
	}
	if err := json.Unmarshal(m.Retry, &r.Retry); err != nil {
		return nil, fmt.Errorf("unmarshal retry: %w", err)
	}
	if len(m.RateLimit) > 0 {
		r.RateLimit = new(ratelimit.Config)
		if err := json.Unmarshal(m.RateLimit, r.RateLimit); err != nil {
			return nil, fmt.Errorf("unmarshal rate limit: %w", err)
		}
	}
	return r, nil
}

// --- Attempt log models ---

type attemptModel struct {
	ID                 string            `bson:"_id"`
	RuleID             string            `bson:"rule_id"`
	TenantID           string            `bson:"tenant_id"`
	EventType          string            `bson:"event_type"`
	SourceID           int64             `bson:"source_id"`
	ScheduleID         string            `bson:"schedule_id,omitempty"`
	MessageID          string            `bson:"message_id"`
	Payload            json.RawMessage   `bson:"payload,omitempty"`
	TransformedPayload json.RawMessage   `bson:"transformed_payload,omitempty"`
	RequestHeaders     map[string]string `bson:"request_headers,omitempty"`
	Status             string            `bson:"status"`
	AttemptCount       int               `bson:"attempt_count"`
	MaxAttempts        int               `bson:"max_attempts"`
	Category           string            `bson:"category,omitempty"`
	LastStatusCode     int               `bson:"last_status_code,omitempty"`
	LastError          string            `bson:"last_error,omitempty"`
	LastResponse       string            `bson:"last_response,omitempty"`
	LastLatencyMs      int               `bson:"last_latency_ms,omitempty"`
	NextAttemptAt      time.Time         `bson:"next_attempt_at"`
	CompletedAt        *time.Time        `bson:"completed_at,omitempty"`
	CreatedAt          time.Time         `bson:"created_at"`
	UpdatedAt          time.Time         `bson:"updated_at"`
}

func toAttemptModel(d *delivery.AttemptLog) *attemptModel {
	m := &attemptModel{
		ID:                 d.ID.String(),
		RuleID:             d.RuleID.String(),
		TenantID:           d.TenantID,
		EventType:          d.EventType,
		SourceID:           d.SourceID,
		MessageID:          d.MessageID.String(),
		Payload:            d.Payload,
		TransformedPayload: d.TransformedPayload,
		RequestHeaders:     d.RequestHeaders,
		Status:             string(d.Status),
		AttemptCount:       d.AttemptCount,
		MaxAttempts:        d.MaxAttempts,
		Category:           string(d.Category),
		LastStatusCode:     d.LastStatusCode,
		LastError:          d.LastError,
		LastResponse:       d.LastResponse,
		LastLatencyMs:      d.LastLatencyMs,
		NextAttemptAt:      d.NextAttemptAt,
		CompletedAt:        d.CompletedAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if !d.ScheduleID.IsNil() {
		m.ScheduleID = d.ScheduleID.String()
	}
	return m
}

func fromAttemptModel(m *attemptModel) (*delivery.AttemptLog, error) {
	logID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	ruleID, err := id.ParseRuleID(m.RuleID)
	if err != nil {
		return nil, fmt.Errorf("parse rule ID %q: %w", m.RuleID, err)
	}
	msgID, err := id.ParseMessageID(m.MessageID)
	if err != nil {
		return nil, fmt.Errorf("parse message ID %q: %w", m.MessageID, err)
	}

	d := &delivery.AttemptLog{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 logID,
		RuleID:             ruleID,
		TenantID:           m.TenantID,
		EventType:          m.EventType,
		SourceID:           m.SourceID,
		MessageID:          msgID,
		Payload:            m.Payload,
		TransformedPayload: m.TransformedPayload,
		RequestHeaders:     m.RequestHeaders,
		Status:             delivery.Status(m.Status),
		AttemptCount:       m.AttemptCount,
		MaxAttempts:        m.MaxAttempts,
		Category:           delivery.Category(m.Category),
		LastStatusCode:     m.LastStatusCode,
		LastError:          m.LastError,
		LastResponse:       m.LastResponse,
		LastLatencyMs:      m.LastLatencyMs,
		NextAttemptAt:      m.NextAttemptAt,
		CompletedAt:        m.CompletedAt,
	}
	if m.ScheduleID != "" {
		if d.ScheduleID, err = id.ParseScheduleID(m.ScheduleID); err != nil {
			return nil, fmt.Errorf("parse schedule ID %q: %w", m.ScheduleID, err)
		}
	}
	return d, nil
}

// --- DLQ models ---

type dlqModel struct {
	ID             string          `bson:"_id"`
	AttemptLogID   string          `bson:"attempt_log_id"`
	RuleID         string          `bson:"rule_id"`
	TenantID       string          `bson:"tenant_id"`
	EventType      string          `bson:"event_type"`
	SourceID       int64           `bson:"source_id"`
	URL            string          `bson:"url"`
	Payload        json.RawMessage `bson:"payload,omitempty"`
	Category       string          `bson:"category"`
	Error          string          `bson:"error"`
	AttemptCount   int             `bson:"attempt_count"`
	LastStatusCode int             `bson:"last_status_code,omitempty"`
	ReplayedAt     *time.Time      `bson:"replayed_at,omitempty"`
	FailedAt       time.Time       `bson:"failed_at"`
	CreatedAt      time.Time       `bson:"created_at"`
	UpdatedAt      time.Time       `bson:"updated_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:             e.ID.String(),
		AttemptLogID:   e.AttemptLogID.String(),
		RuleID:         e.RuleID.String(),
		TenantID:       e.TenantID,
		EventType:      e.EventType,
		SourceID:       e.SourceID,
		URL:            e.URL,
		Payload:        e.Payload,
		Category:       string(e.Category),
		Error:          e.Error,
		AttemptCount:   e.AttemptCount,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq ID %q: %w", m.ID, err)
	}
	logID, err := id.ParseDeliveryID(m.AttemptLogID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.AttemptLogID, err)
	}
	ruleID, err := id.ParseRuleID(m.RuleID)
	if err != nil {
		return nil, fmt.Errorf("parse rule ID %q: %w", m.RuleID, err)
	}

	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		AttemptLogID:   logID,
		RuleID:         ruleID,
		TenantID:       m.TenantID,
		EventType:      m.EventType,
		SourceID:       m.SourceID,
		URL:            m.URL,
		Payload:        m.Payload,
		Category:       delivery.Category(m.Category),
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}, nil
}

// --- Schedule models ---

type scheduleModel struct {
	ID             string          `bson:"_id"`
	RuleID         string          `bson:"rule_id"`
	TenantID       string          `bson:"tenant_id"`
	EventType      string          `bson:"event_type"`
	SourceID       int64           `bson:"source_id"`
	Payload        json.RawMessage `bson:"payload,omitempty"`
	Transformed    bool            `bson:"transformed"`
	ScheduledFor   time.Time       `bson:"scheduled_for"`
	Status         string          `bson:"status"`
	Spec           string          `bson:"spec,omitempty"`
	Occurrence     int             `bson:"occurrence"`
	MaxOccurrences int             `bson:"max_occurrences"`
	CreatedAt      time.Time       `bson:"created_at"`
	UpdatedAt      time.Time       `bson:"updated_at"`
}

func toScheduleModel(s *schedule.ScheduledDelivery) *scheduleModel {
	return &scheduleModel{
		ID:             s.ID.String(),
		RuleID:         s.RuleID.String(),
		TenantID:       s.TenantID,
		EventType:      s.EventType,
		SourceID:       s.SourceID,
		Payload:        s.Payload,
		Transformed:    s.Transformed,
		ScheduledFor:   s.ScheduledFor,
		Status:         string(s.Status),
		Spec:           s.Spec,
		Occurrence:     s.Occurrence,
		MaxOccurrences: s.MaxOccurrences,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromScheduleModel(m *scheduleModel) (*schedule.ScheduledDelivery, error) {
	schID, err := id.ParseScheduleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse schedule ID %q: %w", m.ID, err)
	}
	ruleID, err := id.ParseRuleID(m.RuleID)
	if err != nil {
		return nil, fmt.Errorf("parse rule ID %q: %w", m.RuleID, err)
	}

	return &schedule.ScheduledDelivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             schID,
		RuleID:         ruleID,
		TenantID:       m.TenantID,
		EventType:      m.EventType,
		SourceID:       m.SourceID,
		Payload:        m.Payload,
		Transformed:    m.Transformed,
		ScheduledFor:   m.ScheduledFor,
		Status:         schedule.Status(m.Status),
		Spec:           m.Spec,
		Occurrence:     m.Occurrence,
		MaxOccurrences: m.MaxOccurrences,
	}, nil
}

// --- Lookup table models ---

type lookupModel struct {
	ID           string            `bson:"_id"` // tenantID + ":" + name
	TenantID     string            `bson:"tenant_id"`
	Name         string            `bson:"name"`
	Entries      map[string]string `bson:"entries"`
	OnUnmapped   string            `bson:"on_unmapped"`
	DefaultValue string            `bson:"default_value,omitempty"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

func toLookupModel(t *transform.LookupTable) *lookupModel {
	return &lookupModel{
		ID:           t.TenantID + ":" + t.Name,
		TenantID:     t.TenantID,
		Name:         t.Name,
		Entries:      t.Entries,
		OnUnmapped:   string(t.OnUnmapped),
		DefaultValue: t.DefaultValue,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func fromLookupModel(m *lookupModel) *transform.LookupTable {
	return &transform.LookupTable{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:     m.TenantID,
		Name:         m.Name,
		Entries:      m.Entries,
		OnUnmapped:   transform.UnmappedPolicy(m.OnUnmapped),
		DefaultValue: m.DefaultValue,
	}
}
