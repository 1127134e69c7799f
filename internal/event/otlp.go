package event

import (
	"context"
	"encoding/json"

	otellog "go.opentelemetry.io/otel/log"
)

// OTLPSink emits security events as OTel log records so they land in the
// same backend as traces and metrics. Details are serialized into the
// record body; identifying fields become attributes.
type OTLPSink struct {
	logger recordEmitter
}

// recordEmitter is the slice of otellog.Logger the sink needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewOTLPSink creates a sink backed by the given provider. Returns nil when
// provider is nil (OTLP export disabled).
func NewOTLPSink(provider otellog.LoggerProvider) *OTLPSink {
	if provider == nil {
		return nil
	}
	return &OTLPSink{logger: provider.Logger("truxe.security")}
}

func (s *OTLPSink) Write(ctx context.Context, e *SecurityEvent) error {
	if s == nil || s.logger == nil || e == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(e.Timestamp)
	rec.SetSeverity(otelSeverity(e.Severity))
	rec.SetSeverityText(string(e.Severity))
	if len(e.Details) > 0 {
		if body, err := json.Marshal(e.Details); err == nil {
			rec.SetBody(otellog.BytesValue(body))
		}
	}
	rec.AddAttributes(otellog.String("event_id", e.ID))
	rec.AddAttributes(otellog.String("action", e.Action))
	if e.OrgID != "" {
		rec.AddAttributes(otellog.String("org_id", e.OrgID))
	}
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	s.logger.Emit(ctx, rec)
	return nil
}

func otelSeverity(s Severity) otellog.Severity {
	switch s {
	case SeverityCritical:
		return otellog.SeverityError
	case SeverityWarn:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
