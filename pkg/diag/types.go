package diag

import "time"

// HealthResponse reports plain process liveness: if the HTTP server answers
// at all, the bridge process is up.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse reports the live link/NCP state for whichever client
// session is currently active, or the bridge's idle state if none is.
type StatusResponse struct {
	SessionID  string    `json:"session_id,omitempty"`
	LinkState  string    `json:"link_state"`
	NcpState   string    `json:"ncp_state"`
	Reject     bool      `json:"reject,omitempty"`
	Inflight   uint8     `json:"inflight,omitempty"`
	Acked      uint8     `json:"acked,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
