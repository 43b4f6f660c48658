package postgres

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
)

// The nested rule descriptors (auth, transform, mode, retry) are stored
// as JSONB documents rather than flattened columns. They are read and
// written whole and never filtered on, so a document per descriptor keeps
// the schema stable as descriptor variants grow.

type ruleRow struct {
	ID          string
	TenantID    string
	Name        string
	EventType   string
	URL         string
	Method      string
	ContentType string
	Headers     []byte
	Auth        []byte
	Transform   []byte
	Mode        []byte
	Retry       []byte
	Secrets     []byte
	Schema      []byte
	RateLimit   []byte
	Active      bool
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func toRuleRow(r *rule.Rule) (*ruleRow, error) {
	headers, err := json.Marshal(r.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	auth, err := json.Marshal(r.Auth)
	if err != nil {
		return nil, fmt.Errorf("marshal auth: %w", err)
	}
	tr, err := json.Marshal(r.Transform)
	if err != nil {
		return nil, fmt.Errorf("marshal transform: %w", err)
	}
	mode, err := json.Marshal(r.Mode)
	if err != nil {
		return nil, fmt.Errorf("marshal mode: %w", err)
	}
	retry, err := json.Marshal(r.Retry)
	if err != nil {
		return nil, fmt.Errorf("marshal retry: %w", err)
	}
	secrets, err := json.Marshal(r.Secrets)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}
	var rl []byte
	if r.RateLimit != nil {
		if rl, err = json.Marshal(r.RateLimit); err != nil {
			return nil, fmt.Errorf("marshal rate limit: %w", err)
		}
	}

	return &ruleRow{
		ID:          r.ID.String(),
		TenantID:    r.TenantID,
		Name:        r.Name,
		EventType:   r.EventType,
		URL:         r.URL,
		Method:      r.Method,
		ContentType: r.ContentType,
		Headers:     headers,
		Auth:        auth,
		Transform:   tr,
		Mode:        mode,
		Retry:       retry,
		Secrets:     secrets,
		Schema:      r.Schema,
		RateLimit:   rl,
		Active:      r.Active,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func fromRuleRow(m *ruleRow) (*rule.Rule, error) {
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
		Schema:      m.Schema,
		Active:      m.Active,
		Version:     m.Version,
	}

	if len(m.Headers) > 0 {
		if err := json.Unmarshal(m.Headers, &r.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if len(m.Auth) > 0 {
		if err := json.Unmarshal(m.Auth, &r.Auth); err != nil {
			return nil, fmt.Errorf("unmarshal auth: %w", err)
		}
	}
	if len(m.Transform) > 0 {
		if err := json.Unmarshal(m.Transform, &r.Transform); err != nil {
			return nil, fmt.Errorf("unmarshal transform: %w", err)
		}
	}
	if len(m.Mode) > 0 {
		if err := json.Unmarshal(m.Mode, &r.Mode); err != nil {
			return nil, fmt.Errorf("unmarshal mode: %w", err)
		}
	}
	if len(m.Retry) > 0 {
		if err := json.Unmarshal(m.Retry, &r.Retry); err != nil {
			return nil, fmt.Errorf("unmarshal retry: %w", err)
		}
	}
	if len(m.Secrets) > 0 {
		if err := json.Unmarshal(m.Secrets, &r.Secrets); err != nil {
			return nil, fmt.Errorf("unmarshal secrets: %w", err)
		}
	}
	if len(m.RateLimit) > 0 {
		var rl ratelimit.Config
		if err := json.Unmarshal(m.RateLimit, &rl); err != nil {
			return nil, fmt.Errorf("unmarshal rate limit: %w", err)
		}
		r.RateLimit = &rl
	}

	return r, nil
}

type attemptRow struct {
	ID                 string
	RuleID             string
	TenantID           string
	EventType          string
	SourceID           int64
	ScheduleID         string
	MessageID          string
	Payload            []byte
	TransformedPayload []byte
	RequestHeaders     []byte
	Status             string
	AttemptCount       int
	MaxAttempts        int
	Category           string
	LastStatusCode     int
	LastError          string
	LastResponse       string
	LastLatencyMs      int
	NextAttemptAt      time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func toAttemptRow(d *delivery.AttemptLog) (*attemptRow, error) {
	var headers []byte
	if d.RequestHeaders != nil {
		var err error
		if headers, err = json.Marshal(d.RequestHeaders); err != nil {
			return nil, fmt.Errorf("marshal request headers: %w", err)
		}
	}

	scheduleID := ""
	if !d.ScheduleID.IsNil() {
		scheduleID = d.ScheduleID.String()
	}

	return &attemptRow{
		ID:                 d.ID.String(),
		RuleID:             d.RuleID.String(),
		TenantID:           d.TenantID,
		EventType:          d.EventType,
		SourceID:           d.SourceID,
		ScheduleID:         scheduleID,
		MessageID:          d.MessageID.String(),
		Payload:            d.Payload,
		TransformedPayload: d.TransformedPayload,
		RequestHeaders:     headers,
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
	}, nil
}

func fromAttemptRow(m *attemptRow) (*delivery.AttemptLog, error) {
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
		schID, err := id.ParseScheduleID(m.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("parse schedule ID %q: %w", m.ScheduleID, err)
		}
		d.ScheduleID = schID
	}
	if len(m.RequestHeaders) > 0 {
		if err := json.Unmarshal(m.RequestHeaders, &d.RequestHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal request headers: %w", err)
		}
	}

	return d, nil
}

type dlqRow struct {
	ID             string
	AttemptLogID   string
	RuleID         string
	TenantID       string
	EventType      string
	SourceID       int64
	URL            string
	Payload        []byte
	Category       string
	Error          string
	AttemptCount   int
	LastStatusCode int
	ReplayedAt     *time.Time
	FailedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func toDLQRow(e *dlq.Entry) *dlqRow {
	return &dlqRow{
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

func fromDLQRow(m *dlqRow) (*dlq.Entry, error) {
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

type scheduleRow struct {
	ID             string
	RuleID         string
	TenantID       string
	EventType      string
	SourceID       int64
	Payload        []byte
	Transformed    bool
	ScheduledFor   time.Time
	Status         string
	Spec           string
	Occurrence     int
	MaxOccurrences int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func toScheduleRow(s *schedule.ScheduledDelivery) *scheduleRow {
	return &scheduleRow{
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

func fromScheduleRow(m *scheduleRow) (*schedule.ScheduledDelivery, error) {
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
