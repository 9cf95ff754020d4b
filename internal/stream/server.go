package stream

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
)

const (
	maxMessageSize = 64 << 10
	// authTimeout bounds how long a socket may sit unauthenticated. A valid
	// start frame must arrive inside it or the socket is dropped.
	authTimeout = 10 * time.Second
	readTimeout = 60 * time.Second
)

// SessionResolver maps stream tokens to live sessions.
type SessionResolver interface {
	GetByToken(token string) (*session.Session, bool)
}

// EventHandler receives everything that happens on an authenticated stream.
type EventHandler interface {
	OnStreamStart(s *session.Session)
	// OnMedia delivers inbound audio exactly as the carrier sent it.
	OnMedia(s *session.Session, payload []byte)
	OnDTMF(s *session.Session, digit string)
	OnMark(s *session.Session, name string)
	OnStreamStop(s *session.Session)
}

// Server accepts carrier media websockets.
type Server struct {
	resolver SessionResolver
	events   EventHandler
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer creates the media websocket server.
func NewServer(resolver SessionResolver, events EventHandler, log *zap.Logger) *Server {
	return &Server{
		resolver: resolver,
		events:   events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Carriers connect server-to-server without an Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// HandleTwilio upgrades a Twilio media stream connection.
func (s *Server) HandleTwilio(c echo.Context) error { return s.handle(c, CarrierTwilio) }

// HandleTelnyx upgrades a Telnyx media stream connection.
func (s *Server) HandleTelnyx(c echo.Context) error { return s.handle(c, CarrierTelnyx) }

func (s *Server) handle(c echo.Context, carrier string) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	conn := newConn(ws, carrier, s.log)
	go conn.writePump()
	go s.readPump(conn)
	return nil
}

// readPump drives one socket: authenticate the start frame, then route
// media, DTMF, and marks until the carrier stops the stream.
func (s *Server) readPump(conn *Conn) {
	defer conn.close()

	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(authTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	var sess *session.Session
	defer func() {
		if sess != nil {
			sess.DetachStream()
			s.events.OnStreamStop(sess)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("media socket error", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("malformed media frame", zap.Error(err))
			continue
		}

		if sess == nil {
			switch f.Event {
			case EventConnected:
				continue
			case EventStart:
				token, err := f.sessionToken(conn.carrier)
				if err != nil || token == "" {
					s.log.Warn("stream start without token",
						zap.String("carrier", conn.carrier), zap.Error(err))
					return
				}
				resolved, ok := s.resolver.GetByToken(token)
				if !ok {
					s.log.Warn("stream token rejected",
						zap.String("carrier", conn.carrier),
						zap.String("remote", ws.RemoteAddr().String()))
					return
				}
				sess = resolved
				conn.setStreamID(f.streamID())
				sess.AttachStream(f.streamID(), conn)
				s.events.OnStreamStart(sess)
				s.log.Info("media stream attached",
					zap.String("session_id", sess.ID),
					zap.String("stream_id", f.streamID()),
					zap.String("carrier", conn.carrier))
			default:
				// Nothing is processed before authentication.
				s.log.Warn("frame before start", zap.String("event", f.Event))
				return
			}
			continue
		}

		switch f.Event {
		case EventMedia:
			if f.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(f.Media.Payload)
			if err != nil {
				s.log.Warn("undecodable media payload",
					zap.String("session_id", sess.ID), zap.Error(err))
				continue
			}
			s.events.OnMedia(sess, payload)
		case EventDTMF:
			if f.DTMF != nil {
				s.events.OnDTMF(sess, f.DTMF.Digit)
			}
		case EventMark:
			if f.Mark != nil {
				s.events.OnMark(sess, f.Mark.Name)
			}
		case EventStop:
			s.log.Info("media stream stopped", zap.String("session_id", sess.ID))
			return
		}
	}
}
