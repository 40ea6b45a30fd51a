package handlers

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/taskmind/taskmind/internal/logger"
	"github.com/taskmind/taskmind/internal/models"
	"github.com/taskmind/taskmind/internal/services"
)

// TerminalHandler bridges the terminal WebSocket protocol onto the
// session registry. Outbound PTY bytes travel as binary frames; control
// information (errors, the end-of-stream signal) travels as JSON text
// frames so it can never be confused with terminal output.
type TerminalHandler struct {
	registry    *services.Registry
	sessionsDir string
}

// NewTerminalHandler creates a terminal handler backed by registry.
// sessionsDir is the persisted logical-session directory used to resolve
// resume requests.
func NewTerminalHandler(registry *services.Registry, sessionsDir string) *TerminalHandler {
	return &TerminalHandler{registry: registry, sessionsDir: sessionsDir}
}

// RegisterRoutes registers all terminal routes on the given router group.
func (h *TerminalHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/terminal/:session", h.HandleWebSocket)
	v1.Post("/terminal", h.CreateTerminal)
	v1.Delete("/terminal/:session", h.CloseTerminal)
}

// HandleWebSocket upgrades the connection and attaches it to the session
// named in the path, creating a resume or shell session when the id is
// not yet known.
func (h *TerminalHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	sessionID := c.Params("session")
	return websocket.New(func(conn *websocket.Conn) {
		h.handleTerminalConnection(conn, sessionID)
	})(c)
}

// terminalConn serializes writes to one WebSocket connection; the history
// snapshot, the live pump, and control frames all write concurrently.
type terminalConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *terminalConn) write(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(messageType, data)
}

func (t *terminalConn) writeControl(msgType, message string) {
	data, err := json.Marshal(models.ControlMessage{Type: msgType, Message: message})
	if err != nil {
		return
	}
	_ = t.write(websocket.TextMessage, data)
}

func (h *TerminalHandler) handleTerminalConnection(conn *websocket.Conn, sessionID string) {
	logger.Infof("📡 Terminal connection for session %s", shortID(sessionID))
	tc := &terminalConn{conn: conn}

	session, ok := h.registry.Get(sessionID)
	if !ok {
		session = h.resumeOrShell(tc, sessionID)
		if session == nil {
			_ = conn.Close()
			return
		}
	}

	// Register the queue before snapshotting history: a few bytes at the
	// boundary may be delivered twice, never lost.
	sub := session.Subscribe()
	defer session.Unsubscribe(sub)

	if history := session.History(); len(history) > 0 {
		if err := tc.write(websocket.BinaryMessage, history); err != nil {
			return
		}
	}

	go func() {
		for chunk := range sub.Out() {
			if err := tc.write(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
		// Out() closed: the one end-of-stream marker for this observer.
		logger.Infof("📴 Session %s ended, notifying client", shortID(sessionID))
		_ = tc.write(websocket.BinaryMessage, []byte("\r\n[Session ended]\r\n"))
		tc.writeControl(models.ControlSessionEnded, "")
		_ = conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debugf("terminal websocket closed for %s: %v", shortID(sessionID), err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "input":
			if err := session.Write(msg.Data); err != nil {
				logger.Warnf("⚠️ PTY write failed for %s: %v", shortID(sessionID), err)
			}
		case "resize":
			rows, cols := msg.Rows, msg.Cols
			if rows == 0 {
				rows = 24
			}
			if cols == 0 {
				cols = 80
			}
			session.Resize(rows, cols)
		}
	}
}

// resumeOrShell handles a connection for an id with no live session. An
// id with persisted metadata restarts the conversation via the claude CLI
// under a derived "resume-" session; anything else gets a standalone
// shell. Either way the original id is aliased to the new session so
// later lookups resolve.
func (h *TerminalHandler) resumeOrShell(tc *terminalConn, sessionID string) *services.Session {
	metadataPath := filepath.Join(h.sessionsDir, sessionID, "metadata.json")
	if data, err := os.ReadFile(metadataPath); err == nil {
		return h.startResumeSession(tc, sessionID, data)
	}

	logger.Infof("🐚 No task found for %s, starting shell session", shortID(sessionID))
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	shellID := "shell-" + sessionID
	session, err := h.registry.Create(services.CreateOptions{
		SessionID: shellID,
		Command:   []string{shell},
	})
	if err != nil {
		tc.writeControl(models.ControlError, "Failed to create shell session")
		return nil
	}
	h.registry.RegisterAlias(sessionID, shellID)
	return session
}

func (h *TerminalHandler) startResumeSession(tc *terminalConn, sessionID string, metadataRaw []byte) *services.Session {
	logger.Infof("▶️ Starting resume session for task %s", shortID(sessionID))

	var metadata models.SessionMetadata
	if err := json.Unmarshal(metadataRaw, &metadata); err != nil {
		logger.Warnf("⚠️ Invalid metadata for task %s: %v", shortID(sessionID), err)
	}

	claudePath, err := exec.LookPath("claude")
	if err != nil {
		tc.writeControl(models.ControlError, "claude command not found")
		return nil
	}

	if metadata.ProjectPath != "" {
		if info, err := os.Stat(metadata.ProjectPath); err != nil || !info.IsDir() {
			tc.writeControl(models.ControlError,
				"Project directory does not exist: "+metadata.ProjectPath+
					". Please check if the directory has been moved or deleted.")
			return nil
		}
	}

	resumeID := "resume-" + sessionID
	session, err := h.registry.Create(services.CreateOptions{
		SessionID: resumeID,
		Command:   []string{claudePath, "--resume", sessionID},
		WorkDir:   metadata.ProjectPath,
	})
	if err != nil {
		tc.writeControl(models.ControlError, err.Error())
		return nil
	}
	h.registry.RegisterAlias(sessionID, resumeID)
	return session
}

// CreateTerminal starts a new agent task under a PTY.
//
//	POST /v1/terminal {"prompt": "...", "project_path": "..."}
func (h *TerminalHandler) CreateTerminal(c *fiber.Ctx) error {
	var req struct {
		Prompt      string `json:"prompt"`
		ProjectPath string `json:"project_path"`
	}
	if err := c.BodyParser(&req); err != nil || req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error",
			"error":  "prompt is required",
		})
	}

	taskMindPath, err := exec.LookPath("task-mind")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  "task-mind command not found",
		})
	}

	if req.ProjectPath != "" {
		if info, err := os.Stat(req.ProjectPath); err != nil || !info.IsDir() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error",
				"error":  "Project path does not exist: " + req.ProjectPath,
			})
		}
	}

	command := []string{taskMindPath, "agent", "--yes", "--source", "web"}
	if req.ProjectPath != "" {
		command = append(command, "--project", req.ProjectPath)
	}
	command = append(command, req.Prompt)

	session, err := h.registry.Create(services.CreateOptions{
		Command: command,
		WorkDir: req.ProjectPath,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":       "ok",
		"session_id":   session.ID,
		"project_path": req.ProjectPath,
	})
}

// CloseTerminal closes a terminal session. Closing an unknown id is a
// no-op, matching the registry contract.
//
//	DELETE /v1/terminal/:session
func (h *TerminalHandler) CloseTerminal(c *fiber.Ctx) error {
	h.registry.Close(c.Params("session"))
	return c.JSON(fiber.Map{"status": "ok"})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
