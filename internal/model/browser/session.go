package browser

import "time"

// SessionInfo describes a live session for listings.
type SessionInfo struct {
	ID         string    `json:"sid"`
	URL        string    `json:"url,omitempty"`
	Instance   string    `json:"instance,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastAccess time.Time `json:"lastAccess"`
}

// Status is the body of the status endpoint.
type Status struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}
