// Package quota evaluates tenant usage against plan limits.
//
// Evaluation is stateless: every cycle recomputes each state from the
// current usage, so a tenant hovering at a threshold can flap between
// states across cycles.
package quota

import (
	"fmt"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Thresholds are the usage ratios at which a quota escalates.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds returns warning at 80% and critical at 95%.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.80, Critical: 0.95}
}

// Validate checks 0 < Warning <= Critical <= 1.
func (t Thresholds) Validate() error {
	if t.Warning <= 0 || t.Critical <= 0 {
		return fmt.Errorf("quota thresholds must be positive (warning=%v critical=%v)", t.Warning, t.Critical)
	}
	if t.Warning > t.Critical {
		return fmt.Errorf("warning threshold %v above critical threshold %v", t.Warning, t.Critical)
	}
	if t.Critical > 1 {
		return fmt.Errorf("critical threshold %v above 1.0", t.Critical)
	}
	return nil
}

// Ratio returns usage/limit. A zero limit is treated as fully consumed.
func Ratio(usage, limit int64) float64 {
	if limit <= 0 {
		return 1
	}
	return float64(usage) / float64(limit)
}

// Evaluate maps a usage ratio to a state. Exceeded is reserved for hard
// caps; a soft limit past 100% stays critical.
func (t Thresholds) Evaluate(ratio float64, hardCap bool) models.QuotaState {
	switch {
	case ratio >= 1 && hardCap:
		return models.QuotaExceeded
	case ratio >= t.Critical:
		return models.QuotaCritical
	case ratio >= t.Warning:
		return models.QuotaWarning
	default:
		return models.QuotaOK
	}
}

// Snapshot evaluates one quota. ok is false for unlimited quotas, which
// are never reported.
func (t Thresholds) Snapshot(tenantID string, qt models.QuotaType, usage int64, limit models.Limit) (models.QuotaSnapshot, bool) {
	if limit.Value == models.Unlimited {
		return models.QuotaSnapshot{}, false
	}
	ratio := Ratio(usage, limit.Value)
	return models.QuotaSnapshot{
		TenantID:  tenantID,
		QuotaType: qt,
		Usage:     usage,
		Limit:     limit.Value,
		Ratio:     ratio,
		State:     t.Evaluate(ratio, limit.HardCap),
	}, true
}

// Alert converts a snapshot into an alert. Snapshots in the ok state
// produce no alert.
func Alert(s models.QuotaSnapshot) (models.QuotaAlert, bool) {
	alert := models.QuotaAlert{
		TenantID:  s.TenantID,
		QuotaType: s.QuotaType,
		Usage:     s.Usage,
		Limit:     s.Limit,
	}
	switch s.State {
	case models.QuotaWarning:
		alert.Severity = models.SeverityWarning
	case models.QuotaCritical:
		alert.Severity = models.SeverityCritical
	case models.QuotaExceeded:
		alert.Severity = models.SeverityCritical
		alert.Exceeded = true
	default:
		return models.QuotaAlert{}, false
	}
	return alert, true
}
