package session

import (
	"time"
)

// Session 会话数据，以 JSON 形式保存在 session:<id>
type Session struct {
	Subject       string         `json:"id"`
	Email         string         `json:"email,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastRefresh   time.Time      `json:"last_refresh"`
	LastKeepalive time.Time      `json:"last_keepalive,omitzero"`
	Fingerprint   string         `json:"fingerprint,omitempty"`
	IP            string         `json:"ip,omitempty"`
	OriginIP      string         `json:"origin_ip,omitempty"`
	IPHistory     []IPChange     `json:"ip_history,omitempty"`
	RefreshCount  int            `json:"refresh_count"`
	Untrusted     bool           `json:"untrusted,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// IPChange 一次绑定 IP 的变更
type IPChange struct {
	OldIP string    `json:"old_ip"`
	NewIP string    `json:"new_ip"`
	At    time.Time `json:"at"`
}

// EventType 安全事件类型
type EventType string

const (
	EventRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventInvalidFingerprint EventType = "INVALID_FINGERPRINT"
	EventIPMismatch         EventType = "IP_MISMATCH"
	EventForcedLogout       EventType = "FORCED_LOGOUT"
	EventRevokedAccess      EventType = "REVOKED_SESSION_ACCESS"
	EventUntrustedAccess    EventType = "UNTRUSTED_SESSION_ACCESS"
)

// suspicious 是否计入可疑活动计数。吊销本身及其后续访问不计入，避免反馈循环。
func (t EventType) suspicious() bool {
	switch t {
	case EventForcedLogout, EventRevokedAccess:
		return false
	default:
		return true
	}
}

// Event 安全事件记录
type Event struct {
	ID         string         `json:"event_id"`
	Type       EventType      `json:"type"`
	Identifier string         `json:"identifier"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SecurityMetrics 安全指标快照
type SecurityMetrics struct {
	EventTotals     map[EventType]int64 `json:"event_totals"`
	RecentEvents    []Event             `json:"recent_events"`
	ActiveSessions  int                 `json:"active_sessions"`
	RevokedSessions int64               `json:"revoked_sessions"`
}
