// Package relay pairs a device that holds the directory key with a new device
// and forwards the opaque frames of their key agreement and transfer. The
// relay sees two ephemeral public keys, one ciphertext and the pairing code,
// never the key itself. State is in memory only.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/gorilla/websocket"
)

const (
	authTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 64 << 10
)

var (
	errPeerLeft     = errors.New("peer disconnected")
	ErrShuttingDown = errors.New("relay shutting down")
)

// Authorizer resolves a session token to its claims.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*auth.Claims, error)
}

// Observer is told about finished migrations.
type Observer interface {
	MigrationCompleted()
}

type nopObserver struct{}

func (nopObserver) MigrationCompleted() {}

// Handler serves the relay websocket.
type Handler struct {
	registry *Registry
	authz    Authorizer
	observer Observer
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, authz Authorizer, observer Observer, logger logging.Logger) *Handler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Handler{
		registry: registry,
		authz:    authz,
		observer: observer,
		logger:   logger.With("module", "relay"),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Send(msg api.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)
	conn := &wsConn{ws: ws}

	sess, role, err := h.handshake(r.Context(), conn)
	if err != nil {
		h.logger.Info(r.Context(), "relay handshake rejected", "error", err)
		_ = conn.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	h.logger.Debug(r.Context(), "relay joined", "role", role.String())
	h.readLoop(r.Context(), sess, role, conn)
}

// handshake reads the auth frame. Without a code the caller is the new
// device and gets a fresh code; with one it is the old device and is paired.
func (h *Handler) handshake(ctx context.Context, conn *wsConn) (*Session, Role, error) {
	_ = conn.ws.SetReadDeadline(time.Now().Add(authTimeout))

	var msg api.Message
	if err := conn.ws.ReadJSON(&msg); err != nil {
		return nil, 0, err
	}
	if msg.Type != api.MsgAuth {
		_ = conn.Send(api.Message{Type: api.MsgError, Msg: "expected auth"})
		return nil, 0, common.ErrRelayProtocol
	}

	claims, err := h.authz.Authorize(ctx, msg.Token)
	if err != nil {
		_ = conn.Send(api.Message{Type: api.MsgUnauthorized})
		return nil, 0, common.ErrorUnauthorized
	}

	if msg.Code == "" {
		sess, err := h.registry.Allocate(claims.UserID, conn)
		if err != nil {
			return nil, 0, err
		}
		if err := conn.Send(api.Message{Type: api.MsgCode, Code: sess.Code}); err != nil {
			sess.Teardown(nil)
			return nil, 0, err
		}
		return sess, RoleNew, nil
	}

	code := strings.ToUpper(strings.TrimSpace(msg.Code))
	if !ValidCode(code) {
		_ = conn.Send(api.Message{Type: api.MsgError, Msg: common.ErrCodeNotFound.Error()})
		return nil, 0, common.ErrCodeNotFound
	}

	sess, err := h.registry.Pair(code, claims.UserID, conn)
	if err != nil {
		_ = conn.Send(api.Message{Type: api.MsgError, Msg: err.Error()})
		return nil, 0, err
	}
	if _, err := sess.Apply(RoleOld, api.Message{Type: api.MsgCode, Code: code}); err != nil {
		sess.Teardown(err)
		return nil, 0, err
	}
	return sess, RoleOld, nil
}

func (h *Handler) readLoop(ctx context.Context, sess *Session, role Role, conn *wsConn) {
	for {
		var msg api.Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				sess.Teardown(common.ErrRelayProtocol)
			} else {
				sess.Teardown(errPeerLeft)
			}
			return
		}

		done, err := sess.Apply(role, msg)
		if done {
			if err == nil {
				h.observer.MigrationCompleted()
				h.logger.Info(ctx, "migration finished", "owner", sess.Owner)
			}
			return
		}
		if err != nil {
			h.logger.Info(ctx, "relay protocol violation", "role", role.String(), "error", err)
			sess.Teardown(err)
			return
		}
	}
}

// RunJanitor sweeps idle codes until ctx is done.
func (h *Handler) RunJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := h.registry.Sweep(now); n > 0 {
				h.logger.Info(ctx, "expired migration codes removed", "count", n)
			}
		}
	}
}

// Shutdown closes all relay connections.
func (h *Handler) Shutdown() {
	h.registry.CloseAll(ErrShuttingDown)
}
