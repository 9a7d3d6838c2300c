package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"watchflow/internal/logging"
)

const (
	streamBufferSize   = 1024
	streamWriteTimeout = 10 * time.Second
	shutdownReason     = "watchflow is shutting down"
)

// streamConn is one websocket subscriber of /ws/changes or /ws/logs. The
// handler goroutine is the only writer; a reader goroutine hands text frames
// to onText and closes Gone when the client disconnects.
type streamConn struct {
	conn *websocket.Conn
	gone chan struct{}
}

func openStream(w http.ResponseWriter, r *http.Request, allowedOrigins []string, onText func([]byte)) (*streamConn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  streamBufferSize,
		WriteBufferSize: streamBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	stream := &streamConn{conn: conn, gone: make(chan struct{})}
	go stream.read(onText)
	return stream, nil
}

func (s *streamConn) read(onText func([]byte)) {
	defer close(s.gone)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && onText != nil {
			onText(data)
		}
	}
}

func (s *streamConn) Gone() <-chan struct{} {
	return s.gone
}

func (s *streamConn) Send(payload any) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(payload)
}

// Shutdown tells the client the source closed before dropping the connection.
func (s *streamConn) Shutdown() {
	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, shutdownReason)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(streamWriteTimeout))
	_ = s.conn.Close()
}

func (s *streamConn) Close() {
	_ = s.conn.Close()
}

// rejectStream answers a stream request that cannot be upgraded with a JSON
// error, the same shape the REST routes use.
func rejectStream(w http.ResponseWriter, r *http.Request, logger *logging.Logger, status int, message string) {
	logger.Warn("stream rejected", map[string]string{
		"path":        r.URL.Path,
		"status":      strconv.Itoa(status),
		"message":     message,
		"remote_addr": r.RemoteAddr,
	})
	writeJSONError(w, &apiError{Status: status, Message: message})
}

func logUpgradeFailure(logger *logging.Logger, r *http.Request, err error) {
	logger.Warn("websocket upgrade failed", map[string]string{
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
		"error":       err.Error(),
	})
}
