package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pingInterval = 20 * time.Second
)

// ErrConnClosed is returned when writing to a torn-down media socket.
var ErrConnClosed = errors.New("stream: connection closed")

// Conn is one live media socket. It implements audio.Track so the speaker
// can write outbound frames through it.
type Conn struct {
	ws      *websocket.Conn
	carrier string
	log     *zap.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	streamID string
}

func newConn(ws *websocket.Conn, carrier string, log *zap.Logger) *Conn {
	return &Conn{
		ws:      ws,
		carrier: carrier,
		log:     log,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) setStreamID(id string) {
	c.mu.Lock()
	c.streamID = id
	c.mu.Unlock()
}

// outSid returns the stream id outbound frames must carry; empty for Telnyx.
func (c *Conn) outSid() string {
	if c.carrier != CarrierTwilio {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// WriteChunk enqueues one companded frame for the carrier.
func (c *Conn) WriteChunk(chunk []byte) error {
	return c.enqueue(outFrame{
		Event:     EventMedia,
		StreamSid: c.outSid(),
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(chunk)},
	})
}

// Clear flushes our own queued frames and then tells the carrier to discard
// whatever it has buffered. Without the local flush, frames still in the
// send queue would slip out after the clear and resume playback.
func (c *Conn) Clear() error {
	for {
		select {
		case <-c.send:
		default:
			return c.enqueue(outFrame{Event: EventClear, StreamSid: c.outSid()})
		}
	}
}

// Mark asks the carrier to echo a marker once playback reaches it.
func (c *Conn) Mark(name string) error {
	return c.enqueue(outFrame{
		Event:     EventMark,
		StreamSid: c.outSid(),
		Mark:      &MarkPayload{Name: name},
	})
}

func (c *Conn) enqueue(f outFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrConnClosed
	}
}

// close tears the socket down once; both pumps route through here.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
