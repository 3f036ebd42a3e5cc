package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/source"
)

// Message types accepted on /ws.
const (
	// wsFrame reports a camera frame; the generation advances when it
	// differs from the previous one.
	wsFrame = "frame"
	// wsReset advances the generation unconditionally.
	wsReset = "reset"
	// wsRecognize starts an exploration and streams its attempts.
	wsRecognize = "recognize"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketRequest is a client message on /ws. Image is base64 in JSON.
type WebSocketRequest struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Image     []byte           `json:"image,omitempty"`
	URL       string           `json:"url,omitempty"`
	ROIs      []preprocess.ROI `json:"rois,omitempty"`
	Debug     bool             `json:"debug,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketResponse is a server message on /ws.
type WebSocketResponse struct {
	Type        string           `json:"type"`
	Status      string           `json:"status"` // observed, reset, processing, completed, discarded, error
	RequestID   string           `json:"request_id,omitempty"`
	Generation  uint64           `json:"generation"`
	Changed     bool             `json:"changed,omitempty"`
	AttemptsRun int              `json:"attempts_run,omitempty"`
	Attempt     *explore.Attempt `json:"attempt,omitempty"`
	Result      *explore.Result  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorType   string           `json:"error_type,omitempty"`
}

// lockedConn serializes writes; gorilla connections allow one writer.
type lockedConn struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// readWebSocketHandler handles WebSocket connections for live recognition.
func (s *Server) readWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection reads messages until the client goes away.
// Recognitions run in the background so frames keep flowing while an
// exploration is in flight.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	writer := &lockedConn{conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, writer, data, background)
		}
	}
}

// handleWebSocketMessage dispatches one client message. run executes the
// recognition; the connection loop passes a background runner.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte, run func(func())) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	switch req.Type {
	case wsFrame:
		s.processWebSocketFrame(conn, req)
	case wsReset:
		gen := s.reader.Generation().Advance()
		generationChanges.Inc()
		s.sendWebSocketResponse(conn, WebSocketResponse{Type: wsReset, Status: "reset", RequestID: req.RequestID, Generation: gen, Changed: true})
	case wsRecognize:
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		run(func() { s.processWebSocketRecognize(ctx, conn, req) })
	default:
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "Unsupported request type: "+req.Type)
	}
}

// processWebSocketFrame feeds a frame to the change detector.
func (s *Server) processWebSocketFrame(conn WebSocketConnWriter, req WebSocketRequest) {
	img, _, err := source.Decode(req.Image)
	if err != nil {
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", fmt.Sprintf("Failed to decode frame: %v", err))
		return
	}

	gen, changed, err := s.reader.Generation().Observe(img)
	if err != nil {
		s.sendWebSocketError(conn, req.RequestID, "processing_error", err.Error())
		return
	}
	if changed {
		generationChanges.Inc()
	}
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:       wsFrame,
		Status:     "observed",
		RequestID:  req.RequestID,
		Generation: gen,
		Changed:    changed,
	})
}

// processWebSocketRecognize runs an exploration and streams every attempt.
func (s *Server) processWebSocketRecognize(ctx context.Context, conn WebSocketConnWriter, req WebSocketRequest) {
	var src source.Source
	switch {
	case len(req.Image) > 0:
		src = source.FromBytes(req.Image)
	case req.URL != "" && s.allowRefs:
		src = source.FromRef(req.URL)
	case req.URL != "":
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "Image references are disabled")
		return
	default:
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "No image data provided")
		return
	}

	gen := s.reader.Generation()
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:       wsRecognize,
		Status:     "processing",
		RequestID:  req.RequestID,
		Generation: gen.Current(),
	})

	opts := explore.Options{
		ROIs:  req.ROIs,
		Debug: req.Debug,
		OnAttempt: func(a explore.Attempt, run int) {
			s.sendWebSocketResponse(conn, WebSocketResponse{
				Type:        "attempt",
				Status:      "processing",
				RequestID:   req.RequestID,
				Generation:  gen.Current(),
				AttemptsRun: run,
				Attempt:     &a,
			})
		},
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := s.reader.Recognize(ctx, src, opts)
	recordRecognition(channelWS, res, err, time.Since(start))

	switch {
	case errors.Is(err, explore.ErrStale):
		s.sendWebSocketResponse(conn, WebSocketResponse{
			Type:       wsRecognize,
			Status:     "discarded",
			RequestID:  req.RequestID,
			Generation: gen.Current(),
			Error:      err.Error(),
		})
	case err != nil:
		s.sendWebSocketError(conn, req.RequestID, "processing_error", fmt.Sprintf("Recognition failed: %v", err))
	default:
		s.sendWebSocketResponse(conn, WebSocketResponse{
			Type:        wsRecognize,
			Status:      "completed",
			RequestID:   req.RequestID,
			Generation:  gen.Current(),
			AttemptsRun: res.AttemptsRun,
			Result:      res,
		})
	}
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:       "error",
		Status:     "error",
		RequestID:  requestID,
		Generation: s.reader.Generation().Current(),
		Error:      message,
		ErrorType:  errorType,
	})
}
