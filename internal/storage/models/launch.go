package models

import "time"

// Launch is one recorded browser start
type Launch struct {
	ID          int64     `json:"id"`
	ProfileID   string    `json:"profile_id"`
	PID         int       `json:"pid"`
	Proxy       string    `json:"proxy,omitempty"` // redacted
	ProxySource string    `json:"proxy_source"`    // manual, sticky, fresh, direct
	Relay       bool      `json:"relay"`
	StartedAt   time.Time `json:"started_at"`
}
