package audit

import (
	"context"

	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records event. Implementations fill EventID and Timestamp when unset.
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes buffered events
	Close() error
}

// NopLogger discards events.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *AuditEvent) error { return nil }

func (NopLogger) Close() error { return nil }

// LogLogger writes events to the structured application log.
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates a logger writing through logger.
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger}
}

func (l *LogLogger) Log(_ context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"audit_event_id": event.EventID,
		"event_type":     string(event.EventType),
		"status":         string(event.Status),
		"ip_address":     event.IPAddress,
		"request_id":     event.RequestID,
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.Username != "" {
		fields["username"] = event.Username
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	l.logger.WithFields(fields).Info(event.Message)
	return nil
}

func (l *LogLogger) Close() error { return nil }

// Record logs event through logger and reports failures to the request
// logger instead of the caller.
func Record(ctx context.Context, logger Logger, event *AuditEvent) {
	if logger == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("event_type", string(event.EventType)).
			Error("failed to write audit event")
	}
}
