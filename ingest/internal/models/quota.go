package models

import "time"

// QuotaType names a metered resource.
type QuotaType string

const (
	QuotaIngestHourly  QuotaType = "ingest_hourly"
	QuotaIngestDaily   QuotaType = "ingest_daily"
	QuotaIngestMonthly QuotaType = "ingest_monthly"
	QuotaAPIKeys       QuotaType = "api_keys"
	QuotaStorage       QuotaType = "storage"
)

// QuotaTypes lists every evaluated quota type in evaluation order.
var QuotaTypes = []QuotaType{
	QuotaIngestHourly,
	QuotaIngestDaily,
	QuotaIngestMonthly,
	QuotaAPIKeys,
	QuotaStorage,
}

// IsIngest reports whether qt counts ingested points.
func (qt QuotaType) IsIngest() bool {
	return qt == QuotaIngestHourly || qt == QuotaIngestDaily || qt == QuotaIngestMonthly
}

// GatesIngest reports whether exceeding a hard cap on qt refuses
// ingestion. The api_keys quota only limits key creation.
func (qt QuotaType) GatesIngest() bool {
	return qt.IsIngest() || qt == QuotaStorage
}

// Unlimited marks a limit that is never evaluated.
const Unlimited int64 = -1

// QuotaState is the evaluated state of one quota.
type QuotaState string

const (
	QuotaOK       QuotaState = "ok"
	QuotaWarning  QuotaState = "warning"
	QuotaCritical QuotaState = "critical"
	QuotaExceeded QuotaState = "exceeded"
)

// Limit is a plan's allowance for one quota type.
type Limit struct {
	Value   int64 `json:"value"`
	HardCap bool  `json:"hardCap"`
}

// PlanLimits maps quota types to limits. Missing types are unlimited.
type PlanLimits map[QuotaType]Limit

// Get returns the limit for qt, or an unlimited soft limit.
func (p PlanLimits) Get(qt QuotaType) Limit {
	if l, ok := p[qt]; ok {
		return l
	}
	return Limit{Value: Unlimited}
}

// QuotaSnapshot is the usage of one quota at evaluation time.
type QuotaSnapshot struct {
	TenantID  string     `json:"tenantId"`
	QuotaType QuotaType  `json:"quotaType"`
	Usage     int64      `json:"usage"`
	Limit     int64      `json:"limit"`
	Ratio     float64    `json:"ratio"`
	State     QuotaState `json:"state"`
}

// AlertSeverity is the severity carried on quota alerts.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// QuotaAlert is published on quota.warning or quota.exceeded.
type QuotaAlert struct {
	TenantID  string        `json:"tenantId"`
	QuotaType QuotaType     `json:"quotaType"`
	Usage     int64         `json:"usage"`
	Limit     int64         `json:"limit"`
	Severity  AlertSeverity `json:"severity"`
	Exceeded  bool          `json:"exceeded"`
	EmittedAt time.Time     `json:"emittedAt"`
}

// TenantStatus is the admission view of a tenant's quotas.
type TenantStatus struct {
	TenantID  string          `json:"tenantId"`
	Allowed   bool            `json:"allowed"`
	Reason    string          `json:"reason,omitempty"`
	Remaining int64           `json:"remaining"` // smallest ingest allowance left; -1 unlimited
	Snapshots []QuotaSnapshot `json:"snapshots"`
}
