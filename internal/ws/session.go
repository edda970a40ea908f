package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	commands "planter-cloud/internal/commands/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 32
)

// Message is the socket envelope. Inbound device messages carry sensor_data
// and command_result; outbound messages carry send_command and, for
// observers, fan-out events.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// commandPayload is the wire form of a pushed command.
type commandPayload struct {
	ID           string `json:"id"`
	DeviceID     string `json:"deviceId"`
	CommandType  string `json:"commandType"`
	CommandValue string `json:"commandValue"`
	CreatedAt    string `json:"createdAt"`
}

var errSessionClosed = errors.New("ws: session closed")

// session is one socket connection with a buffered outbound queue.
type session struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, send: make(chan []byte, sendBuffer)}
}

// enqueue queues an outbound frame without blocking. A full buffer or a
// closed session is an error so callers can count the failed push.
func (s *session) enqueue(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = errSessionClosed
		}
	}()
	select {
	case s.send <- data:
		return nil
	default:
		return errors.New("ws: send buffer full")
	}
}

// close shuts the outbound queue exactly once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// writePump pumps queued frames to the connection and keeps it alive with
// pings. It owns all writes.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection dies, invoking handle for each
// parsed envelope. handle may be nil for write-only peers.
func (s *session) readPump(handle func(Message)) {
	defer func() {
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if handle == nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		handle(msg)
	}
}

// deviceSession is the push channel for one connected device.
type deviceSession struct {
	*session
	deviceID string
}

// Push implements the presence push handle: it queues a send_command frame.
func (d *deviceSession) Push(cmd commands.Command) error {
	payload, err := json.Marshal(commandPayload{
		ID:           cmd.ID,
		DeviceID:     cmd.DeviceID,
		CommandType:  cmd.Type,
		CommandValue: cmd.Value,
		CreatedAt:    cmd.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{Type: "send_command", Payload: payload})
	if err != nil {
		return err
	}
	return d.enqueue(frame)
}
