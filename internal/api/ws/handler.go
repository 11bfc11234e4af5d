package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/kernel"
)

const (
	DefaultInterval = time.Second
	MinInterval     = 50 * time.Millisecond
	writeWait       = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// The debug API is read-only and CORS is open already.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is a frame sent to or received from a client.
type Message struct {
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp,omitempty"`
	Snapshot  *kernel.Snapshot `json:"snapshot,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Handler streams scheduler snapshots over WebSocket.
type Handler struct {
	kernel *kernel.Kernel
	logger *zap.Logger
	stop   <-chan struct{}
}

// NewHandler creates a stream handler. Open streams end when stop closes.
func NewHandler(k *kernel.Kernel, logger *zap.Logger, stop <-chan struct{}) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{kernel: k, logger: logger, stop: stop}
}

// HandleConnection upgrades the request and sends a snapshot every
// interval (query parameter, default 1s). Clients may send
// {"type":"snapshot"} for an immediate one or {"type":"ping"}.
func (h *Handler) HandleConnection(c *gin.Context) {
	interval := DefaultInterval
	if raw := c.Query("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < MinInterval {
			c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be a duration of at least " + MinInterval.String()})
			return
		}
		interval = d
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	requests := make(chan string, 8)
	closed := make(chan struct{})
	go h.readLoop(conn, requests, closed)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := h.sendSnapshot(conn); err != nil {
		return
	}
	for {
		var err error
		select {
		case <-ticker.C:
			err = h.sendSnapshot(conn)
		case req := <-requests:
			switch req {
			case "snapshot":
				err = h.sendSnapshot(conn)
			case "ping":
				err = h.send(conn, Message{Type: "pong", Timestamp: time.Now().Unix()})
			default:
				err = h.send(conn, Message{Type: "error", Error: "unknown message type"})
			}
		case <-closed:
			return
		case <-h.stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "kernel halted"),
				time.Now().Add(writeWait))
			return
		}
		if err != nil {
			h.logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, requests chan<- string, closed chan<- struct{}) {
	defer close(closed)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case requests <- msg.Type:
		default:
		}
	}
}

func (h *Handler) sendSnapshot(conn *websocket.Conn) error {
	snap := h.kernel.Snapshot()
	return h.send(conn, Message{Type: "snapshot", Timestamp: time.Now().Unix(), Snapshot: &snap})
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
