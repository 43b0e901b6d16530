package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/portprobe/internal/api/middleware"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// Stream message types.
const (
	MessageResult  = "result"
	MessageSummary = "summary"
	MessageError   = "error"
)

// StreamMessage is one websocket frame of a streamed scan.
type StreamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamScan upgrades to a websocket and streams results in completion
// order, followed by the summary. The scan is canceled if the client goes
// away first.
func (h *ScanHandler) StreamScan(w http.ResponseWriter, r *http.Request) {
	req, err := streamRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	cfg, err := h.validate(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.WithFields("request_id", middleware.GetRequestID(r))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readPump(conn, cancel)

	scan, err := h.runner.Start(ctx, cfg)
	if err != nil {
		_ = writeMessage(conn, MessageError, err.Error())
		return
	}
	logger = logger.WithScanID(scan.ID().String())
	logger.Info("Streaming scan", "target", cfg.Host)

	connected := true
	for res := range scan.Results() {
		if !connected {
			continue
		}
		if err := writeMessage(conn, MessageResult, res); err != nil {
			logger.WithError(err).Debug("Stream client went away")
			connected = false
			cancel()
		}
	}

	summary := scan.Wait()
	h.save(context.Background(), summary)

	if !connected {
		return
	}
	if err := writeMessage(conn, MessageSummary, summary); err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan complete"))
}

func streamRequest(r *http.Request) (ScanRequest, error) {
	req := ScanRequest{Host: r.URL.Query().Get("host")}

	var err error
	if req.StartPort, err = getQueryParamInt(r, "start", 0); err != nil {
		return req, err
	}
	if req.EndPort, err = getQueryParamInt(r, "end", 0); err != nil {
		return req, err
	}
	if req.Concurrency, err = getQueryParamInt(r, "concurrency", 0); err != nil {
		return req, err
	}
	if req.TimeoutMS, err = getQueryParamInt(r, "timeout_ms", 0); err != nil {
		return req, err
	}
	return req, nil
}

// readPump discards client frames and cancels once the peer disconnects.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, messageType string, data interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(StreamMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
