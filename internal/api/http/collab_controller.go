package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sketchsync/sketchsync/internal/auth"
	"github.com/sketchsync/sketchsync/internal/domain"
	"github.com/sketchsync/sketchsync/internal/metrics"
	"github.com/sketchsync/sketchsync/internal/realtime"
	"github.com/sketchsync/sketchsync/internal/resilience"
	"github.com/sketchsync/sketchsync/lib/logger/sl"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// CollabOptions come from the realtime section of the config.
type CollabOptions struct {
	SendBufferSize int
	MessageRate    float64
	MessageBurst   int
}

type CollabController struct {
	log      *slog.Logger
	auth     *auth.Service
	registry *realtime.Registry
	rooms    *realtime.RoomManager
	m        *metrics.Metrics
	opts     CollabOptions
	upgrader websocket.Upgrader
}

func NewCollabController(
	log *slog.Logger,
	authSvc *auth.Service,
	registry *realtime.Registry,
	rooms *realtime.RoomManager,
	m *metrics.Metrics,
	opts CollabOptions,
) *CollabController {
	if log == nil {
		log = slog.Default()
	}
	return &CollabController{
		log:      log,
		auth:     authSvc,
		registry: registry,
		rooms:    rooms,
		m:        m,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Connect authenticates the request, upgrades it to a websocket and
// runs the collaboration session until the socket dies. Bad credentials
// are rejected before the upgrade so the client gets a real 401.
func (c *CollabController) Connect(ctx *gin.Context) {
	const op = "http.collab.connect"

	token := bearerToken(ctx)
	if token == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	user, err := c.auth.Authenticate(ctx.Request.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, gin.H{"error": "authentication failed"})
		return
	}

	socket, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Error("websocket upgrade failed", slog.String("op", op), sl.Err(err))
		return
	}

	log := c.log.With(
		slog.String("op", op),
		slog.String("user_id", user.ID),
	)

	conn := realtime.NewConn(user.ID, c.opts.SendBufferSize)
	c.registry.Register(conn)

	go c.writePump(socket, conn)

	conn.Enqueue(domain.Message{
		Type:   domain.TypeConnectionAck,
		UserID: user.ID,
		Payload: map[string]any{
			"connection_id": conn.ID,
		},
		Timestamp: time.Now().UTC(),
	})

	if roomID := ctx.Query("project_id"); roomID != "" {
		c.joinRoom(ctx.Request.Context(), conn, roomID)
	}

	c.readLoop(socket, conn, log)
}

func (c *CollabController) readLoop(socket *websocket.Conn, conn *realtime.Conn, log *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(c.opts.MessageRate), c.opts.MessageBurst)

	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		conn.Touch()
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer func() {
		c.rooms.Disconnect(context.Background(), conn)
		_ = socket.Close()
	}()

	for {
		var msg domain.Message
		if err := socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket closed unexpectedly", sl.Err(err))
			}
			return
		}
		conn.Touch()
		c.m.MessageIn(msg.Type)

		if !limiter.Allow() {
			c.m.RateLimited()
			conn.Enqueue(domain.ErrorMessage(domain.CodeRateLimited, "too many messages"))
			continue
		}

		c.handleMessage(conn, msg)
	}
}

func (c *CollabController) handleMessage(conn *realtime.Conn, msg domain.Message) {
	ctx := context.Background()

	switch msg.Type {
	case domain.TypeJoinRoom:
		roomID := msg.Room
		if roomID == "" {
			roomID, _ = msg.Payload["room_id"].(string)
		}
		if roomID == "" {
			conn.Enqueue(domain.ErrorMessage(domain.CodeBadMessage, "join_room requires a room"))
			return
		}
		c.joinRoom(ctx, conn, roomID)

	case domain.TypeLeaveRoom:
		roomID := msg.Room
		if roomID == "" {
			roomID = conn.RoomID()
		}
		if err := c.rooms.Leave(ctx, conn, roomID); err != nil {
			conn.Enqueue(c.errorFrame(err))
		}

	case domain.TypePing:
		conn.Enqueue(domain.Message{
			Type:      domain.TypePong,
			Timestamp: time.Now().UTC(),
		})

	default:
		if err := c.rooms.Relay(ctx, conn, msg); err != nil {
			conn.Enqueue(c.errorFrame(err))
		}
	}
}

func (c *CollabController) joinRoom(ctx context.Context, conn *realtime.Conn, roomID string) {
	snapshot, err := c.rooms.Join(ctx, conn, roomID)
	if err != nil {
		conn.Enqueue(c.errorFrame(err))
		return
	}
	conn.Enqueue(domain.Message{
		Type:    domain.TypeRoomJoined,
		Room:    snapshot.RoomID,
		Version: snapshot.Version,
		Payload: map[string]any{
			"members": snapshot.Members,
			"owner":   snapshot.Owner,
			"state":   snapshot.State,
		},
		Timestamp: snapshot.At,
	})
}

// errorFrame maps service errors to protocol error codes. Unknown
// errors surface as dependency failures without leaking detail.
func (c *CollabController) errorFrame(err error) domain.Message {
	var conflict *realtime.VersionConflictError

	switch {
	case errors.As(err, &conflict):
		msg := domain.ErrorMessage(domain.CodeVersionConflict, conflict.Error())
		msg.Version = conflict.Current
		return msg
	case errors.Is(err, realtime.ErrNotInRoom):
		return domain.ErrorMessage(domain.CodeNotInRoom, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		return domain.ErrorMessage(domain.CodeForbidden, "access to this project is denied")
	case errors.Is(err, auth.ErrProjectNotFound):
		return domain.ErrorMessage(domain.CodeRoomNotFound, "project does not exist")
	case errors.Is(err, resilience.ErrCircuitOpen):
		return domain.ErrorMessage(domain.CodeUnavailable, "dependency temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorMessage(domain.CodeDependency, "dependency timed out")
	default:
		return domain.ErrorMessage(domain.CodeBadMessage, err.Error())
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings. It exits when the queue closes or a
// write fails.
func (c *CollabController) writePump(socket *websocket.Conn, conn *realtime.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Outbound():
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := socket.WriteJSON(msg); err != nil {
				return
			}
			c.m.MessageOut(msg.Type)

		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func bearerToken(ctx *gin.Context) string {
	if token := ctx.Query("token"); token != "" {
		return token
	}
	header := ctx.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}
