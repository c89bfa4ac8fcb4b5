package streamcore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/internal/asyncprocessor"
)

// size of the header that precedes NAL units in binary messages.
const webSocketHeaderSize = 12

type webSocketClient struct {
	id        uuid.UUID
	conn      *websocket.Conn
	processor *asyncprocessor.Processor
}

// WebSocketSink is a Sink that sends NAL units to WebSocket clients.
//
// Each NAL unit is sent in a binary message made of
// the stream index (uint32, little endian), the PTS in microseconds
// (uint64, little endian) and the NAL unit with its start code.
//
// Clients that are too slow lose messages.
type WebSocketSink struct {
	// index of the stream, written in the header of each message.
	StreamIndex uint32
	// number of messages that can be queued for each client.
	// It defaults to 64.
	ClientQueueSize int
	// timeout of writes.
	// It defaults to 10s.
	WriteTimeout time.Duration
	// Logger. It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	mutex    sync.Mutex
	clients  map[uuid.UUID]*webSocketClient
	closed   bool
	dropped  atomic.Uint64
}

// Initialize initializes a WebSocketSink.
func (s *WebSocketSink) Initialize() {
	if s.ClientQueueSize == 0 {
		s.ClientQueueSize = 64
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	s.log = s.Logger.WithField("sink", "websocket")

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}
	s.clients = make(map[uuid.UUID]*webSocketClient)
}

// Close disconnects all clients.
func (s *WebSocketSink) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closed = true

	for _, c := range s.clients {
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (s *WebSocketSink) ClientCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.clients)
}

// DroppedMessages returns the number of messages that were not delivered
// because a client queue was full.
func (s *WebSocketSink) DroppedMessages() uint64 {
	return s.dropped.Load()
}

// ServeHTTP implements http.Handler.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("unable to upgrade connection: %v", err)
		return
	}

	c := &webSocketClient{
		id:   uuid.New(),
		conn: conn,
	}

	c.processor = &asyncprocessor.Processor{
		BufferSize: s.ClientQueueSize,
		OnError: func(_ context.Context, err error) {
			s.log.WithField("client", c.id).Debugf("write failed: %v", err)
			conn.Close()
		},
	}
	c.processor.Initialize()

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		c.processor.Close()
		conn.Close()
		return
	}
	s.clients[c.id] = c
	s.mutex.Unlock()

	c.processor.Start()

	s.log.WithField("client", c.id).Infof("client connected from %v", r.RemoteAddr)

	// incoming messages are discarded, reads are needed to detect disconnections.
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}

	s.mutex.Lock()
	delete(s.clients, c.id)
	s.mutex.Unlock()

	c.processor.Close()
	conn.Close()

	s.log.WithField("client", c.id).Infof("client disconnected")
}

// WriteNALU implements Sink.
func (s *WebSocketSink) WriteNALU(ctx *SinkNALUCtx) error {
	byts := ctx.NALU.Bytes()

	// NAL units point to slot memory, a copy is needed.
	msg := make([]byte, webSocketHeaderSize+len(byts))
	binary.LittleEndian.PutUint32(msg[0:4], s.StreamIndex)
	binary.LittleEndian.PutUint64(msg[4:12], ctx.Frame.PTS)
	copy(msg[webSocketHeaderSize:], byts)

	s.broadcast(websocket.BinaryMessage, msg)
	return nil
}

// EndAccessUnit implements Sink.
func (s *WebSocketSink) EndAccessUnit(_ *SinkAccessUnitCtx) error {
	return nil
}

// BroadcastJSON sends a value encoded in JSON to all clients, in a text message.
func (s *WebSocketSink) BroadcastJSON(v interface{}) error {
	byts, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to encode message: %w", err)
	}

	s.broadcast(websocket.TextMessage, byts)
	return nil
}

func (s *WebSocketSink) broadcast(messageType int, msg []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, c := range s.clients {
		conn := c.conn
		ok := c.processor.Push(func() error {
			err := conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
			if err != nil {
				return err
			}
			return conn.WriteMessage(messageType, msg)
		})
		if !ok {
			s.dropped.Add(1)
		}
	}
}
