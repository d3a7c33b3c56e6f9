package logging

import "log/slog"

// Field names shared by every component so log queries stay uniform.
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldTenantID   = "tenant_id"
	FieldAPIKeyID   = "api_key_id"
	FieldFormat     = "format"
	FieldBatchID    = "batch_id"
	FieldPointCount = "point_count"
	FieldAttempt    = "attempt"
	FieldTopic      = "topic"
	FieldQuotaType  = "quota_type"
	FieldSeverity   = "severity"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func TenantID(id string) slog.Attr {
	return slog.String(FieldTenantID, id)
}

func APIKeyID(id string) slog.Attr {
	return slog.String(FieldAPIKeyID, id)
}

func Format(format string) slog.Attr {
	return slog.String(FieldFormat, format)
}

func BatchID(id string) slog.Attr {
	return slog.String(FieldBatchID, id)
}

func PointCount(n int) slog.Attr {
	return slog.Int(FieldPointCount, n)
}

func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

func QuotaType(qt string) slog.Attr {
	return slog.String(FieldQuotaType, qt)
}

func Severity(s string) slog.Attr {
	return slog.String(FieldSeverity, s)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error logs as "".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
