package models

import "time"

// SessionMetadata mirrors the metadata.json written next to each logical
// session by the task-mind CLI. This server only reads these files; it
// never writes them.
type SessionMetadata struct {
	Source      string    `json:"source,omitempty"`
	ProjectPath string    `json:"project_path,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// IsWebSourced reports whether the session was launched from the web GUI.
// Only web-sourced sessions are candidates for PTY alias binding.
func (m *SessionMetadata) IsWebSourced() bool {
	return m.Source == "web"
}

// ClientMessage is an inbound terminal WebSocket message.
//
// Protocol:
//   - {"type": "input", "data": "..."} keystrokes for the PTY
//   - {"type": "resize", "rows": 24, "cols": 80} window size change
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
}

// ControlMessage is an outbound text frame distinct from the binary PTY
// byte stream. The session-ended control frame is how end-of-stream is
// signaled; it is never encoded as an empty binary frame.
type ControlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

const (
	// ControlSessionEnded tells the client no further output will arrive.
	ControlSessionEnded = "session-ended"
	// ControlError carries a terminal setup failure to the client.
	ControlError = "error"
)
