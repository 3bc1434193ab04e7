package handler

import (
	"context"
	"errors"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/auth"
	"locshare/backend/internal/fanout"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/logging"
	"locshare/backend/internal/watch"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

// Message types on the stream.
const (
	msgSnapshot    = "snapshot"
	msgEvent       = "event"
	msgWatchStates = "watch_states"
	msgPing        = "ping"
	msgPong        = "pong"
	msgRefresh     = "refresh"
	msgAppState    = "app_state"
	msgError       = "error"
)

var errStreamClosed = errors.New("stream closed by client")

// streamMessage is the envelope of every frame the server sends.
type streamMessage struct {
	Type        string                  `json:"type"`
	Friends     []fanout.FriendLocation `json:"friends,omitempty"`
	Event       *hub.Event              `json:"event,omitempty"`
	WatchStates []hub.WatchState        `json:"watch_states,omitempty"`
	Error       *ErrorResponse          `json:"error,omitempty"`
}

// clientMessage is what the client may send.
type clientMessage struct {
	Type  string         `json:"type"`
	State watch.AppState `json:"state,omitempty"`
}

type stream struct {
	h       *Handler
	conn    *websocket.Conn
	userID  uuid.UUID
	session watch.Session
	send    chan streamMessage
}

// Stream godoc
// @Summary      Live friend updates
// @Description  Upgrades to a WebSocket. The server sends a snapshot of friends' locations, then location, watch state and friendship events. Clients send {"type":"refresh"}, {"type":"ping"} or {"type":"app_state","state":"active"}. Pass the token as access_token when headers cannot be set.
// @Tags         location
// @Security     BearerAuth
// @Param        access_token  query  string  false  "Session token"
// @Success      101
// @Failure      401  {object}  ErrorResponse
// @Router       /stream [get]
func (h *Handler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &stream{
		h:       h,
		conn:    conn,
		userID:  auth.UserID(c),
		session: watchSession(c),
		send:    make(chan streamMessage, sendBuffer),
	}
	err = s.run(c.Request.Context())
	if err != nil && !errors.Is(err, errStreamClosed) {
		logging.Debug().Err(err).Str("user_id", s.userID.String()).Msg("stream ended")
	}
}

func (s *stream) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	rec := fanout.NewReconciler(s.h.router, s.userID, s.h.reconcileInterval, fanout.Handlers{
		Snapshot: func(list []fanout.FriendLocation) {
			if list == nil {
				list = []fanout.FriendLocation{}
			}
			s.enqueue(gctx, streamMessage{Type: msgSnapshot, Friends: list})
		},
		Event: func(ev hub.Event) {
			s.enqueue(gctx, streamMessage{Type: msgEvent, Event: &ev})
		},
	})

	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return s.pullWatchStates(gctx) })
	g.Go(func() error { return s.readPump(gctx, rec) })
	g.Go(func() error { return s.writePump(gctx) })

	return g.Wait()
}

// enqueue hands a frame to the write pump, waiting while the client catches
// up.
func (s *stream) enqueue(ctx context.Context, msg streamMessage) {
	select {
	case s.send <- msg:
	case <-ctx.Done():
	}
}

func (s *stream) pullWatchStates(ctx context.Context) error {
	ticker := time.NewTicker(s.h.watchReconcileInterval)
	defer ticker.Stop()

	for {
		states, err := s.h.tracker.FriendWatchStates(ctx, s.userID)
		if err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Str("user_id", s.userID.String()).Msg("watch state pull failed")
		} else if err == nil {
			s.enqueue(ctx, streamMessage{Type: msgWatchStates, WatchStates: nonNil(states)})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// readPump always returns an error so the group winds down when the client
// goes away.
func (s *stream) readPump(ctx context.Context, rec *fanout.Reconciler) error {
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				return err
			}
			return errStreamClosed
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.enqueue(ctx, errorMessage(apperror.InvalidOperation(apperror.CodeInvalidInput, "malformed message")))
			continue
		}

		switch msg.Type {
		case msgPing:
			s.enqueue(ctx, streamMessage{Type: msgPong})
		case msgRefresh:
			rec.Refresh()
		case msgAppState:
			if _, err := s.h.tracker.Transition(ctx, s.session, msg.State); err != nil {
				s.enqueue(ctx, errorMessage(err))
			}
		default:
			s.enqueue(ctx, errorMessage(apperror.InvalidOperation(apperror.CodeInvalidInput, "unknown message type")))
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (s *stream) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case msg := <-s.send:
			payload, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func errorMessage(err error) streamMessage {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return streamMessage{Type: msgError, Error: &ErrorResponse{Error: appErr.Message, Code: string(appErr.Code)}}
	}
	return streamMessage{Type: msgError, Error: &ErrorResponse{Error: "Internal server error"}}
}
