package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"fintrack/cmd/internal/auth/session"
	v1 "fintrack/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const wsCloseGrace = 1 * time.Second

// Authenticator resolves a bearer credential to a user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (UserID, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (UserID, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (UserID, error) {
	return f(ctx, token)
}

// rememberer is implemented by directories that learn users from connections.
type rememberer interface {
	Remember(id UserID)
}

// WSGateway is the chat WebSocket entrypoint.
//
// One HandleWS call drives one connection through
// Connecting -> Authenticated -> Active -> Closed. Deregistration on Closed
// is unconditional (deferred, panic-safe).
type WSGateway struct {
	log     *slog.Logger
	cfg     GatewayConfig
	auth    Authenticator
	router  *Router
	metrics *Metrics

	originPatterns []string
}

// NewWSGateway constructs a gateway. The registry, mailbox and directory are the router's.
func NewWSGateway(log *slog.Logger, cfg GatewayConfig, auth Authenticator, router *Router) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = maxFrameBytes
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = storeOpTimeout
	}
	return &WSGateway{
		log:            log,
		cfg:            cfg,
		auth:           auth,
		router:         router,
		metrics:        router.metrics,
		originPatterns: cfg.OriginPatterns(),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request, authenticates it and runs the session.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := checkOrigin(r, g.cfg.OriginRequired, g.cfg.AllowedOrigins); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	token := session.TokenFromRequest(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(g.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	userID, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.rejectToken(ctx, conn)
		return
	}

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	g.serve(ctx, cancel, conn, NewConnection(userID, sessionID, conn, g.cfg.WriteTimeout))
}

func (g *WSGateway) rejectToken(ctx context.Context, conn *websocket.Conn) {
	c := NewConnection(0, "", conn, g.cfg.WriteTimeout)
	_ = c.Notify(ctx, v1.NoticeTokenError)
	c.Close(websocket.StatusPolicyViolation, "token error")
}

func (g *WSGateway) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *Connection) {
	log := g.log.With("user_id", c.UserID, "session_id", c.SessionID)

	var heartbeatDone chan struct{}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("ws.session.panic", "panic", rec)
			c.Close(websocket.StatusInternalError, "internal error")
		}

		g.router.registry.Release(c)
		c.Close(websocket.StatusNormalClosure, "bye")
		cancel()

		if heartbeatDone != nil {
			select {
			case <-heartbeatDone:
			case <-time.After(wsCloseGrace):
			}
		}
		log.Info("ws.session.closed")
	}()

	if d, ok := g.router.directory.(rememberer); ok {
		d.Remember(c.UserID)
	}

	if err := g.activate(ctx, c, log); err != nil {
		log.Error("ws.session.activate.fail", "err", err)
		c.Close(websocket.StatusInternalError, "mailbox unavailable")
		return
	}
	log.Info("ws.session.active")

	heartbeatDone = make(chan struct{})
	go g.heartbeat(ctx, conn, c, heartbeatDone, log)

	limiter := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logReadEnd(log, err)
			return
		}

		if !limiter.Allow(time.Now()) {
			g.notify(ctx, c, v1.NoticeTooManyMessages, log)
			continue
		}

		msg, err := v1.DecodeChatMessage(data)
		if err != nil {
			notice := v1.NoticeInvalidFormat
			if errors.Is(err, v1.ErrInvalidJSON) {
				notice = v1.NoticeInvalidJSON
			}
			g.notify(ctx, c, notice, log)
			continue
		}

		g.onChatMessage(ctx, c, msg, log)
	}
}

// activate registers c and flushes its mailbox before any live delivery can
// reach it: writeMu is held from registration until the backlog is written.
func (g *WSGateway) activate(ctx context.Context, c *Connection, log *slog.Logger) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if prev := g.router.registry.Register(c); prev != nil {
		log.Info("ws.session.replaced", "replaced_session_id", prev.SessionID)
	}

	mailbox := g.router.mailbox
	dctx, dcancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	msgs, err := mailbox.Drain(dctx, c.UserID)
	dcancel()
	if err != nil {
		if !errors.Is(err, ErrMailboxCorrupt) {
			return fmt.Errorf("drain mailbox: %w", err)
		}
		log.Error("mailbox.drain.corrupt", "err", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	sent, err := c.flushLocked(ctx, msgs)
	g.metrics.drainedAdd(sent)
	if err != nil {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.StoreTimeout)
		defer rcancel()
		if rerr := mailbox.Restore(rctx, c.UserID, msgs[sent:]); rerr != nil {
			log.Error("mailbox.restore.fail", "err", rerr, "lost", len(msgs)-sent)
		}
		return fmt.Errorf("flush mailbox: %w", err)
	}

	log.Info("mailbox.flush", "count", sent)
	return nil
}

func (g *WSGateway) onChatMessage(ctx context.Context, c *Connection, msg v1.ChatMessage, log *slog.Logger) {
	res, err := g.router.Route(ctx, c.UserID, msg)

	for _, id := range res.Unknown {
		g.notify(ctx, c, v1.NoUserNotice(int64(id)), log)
	}
	for id := range res.Failed {
		g.notify(ctx, c, v1.DeliveryFailedNotice(int64(id)), log)
	}
	if err == nil {
		log.Debug("chat.route", "delivered", len(res.Delivered), "queued", len(res.Queued))
		return
	}

	var unknown *UnknownRecipientError
	switch {
	case errors.Is(err, ErrEmptyMessage):
		g.notify(ctx, c, v1.NoticeEnterMessage, log)
	case errors.Is(err, ErrNoRecipient):
		g.notify(ctx, c, v1.NoticeRecipientMissing, log)
	case errors.As(err, &unknown):
		g.notify(ctx, c, unknown.Notice(), log)
	case errors.Is(err, ErrDirectoryUnavailable):
		log.Error("chat.route.fail", "err", err)
		g.notify(ctx, c, v1.NoticeTryAgain, log)
	default:
		// Store failures were already reported per target above.
		log.Error("chat.route.fail", "err", err)
	}
}

func (g *WSGateway) notify(ctx context.Context, c *Connection, text string, log *slog.Logger) {
	if err := c.Notify(ctx, text); err != nil {
		log.Debug("ws.notify.fail", "notice", text, "err", err)
	}
}

// heartbeat pings the peer; maxPingFailures consecutive failures end the session.
func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, c *Connection, done chan<- struct{}, log *slog.Logger) {
	defer close(done)

	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			log.Info("ws.ping.fail", "failures", failures, "err", err)
			if failures >= maxPingFailures {
				c.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func logReadEnd(log *slog.Logger, err error) {
	switch {
	case websocket.CloseStatus(err) != -1:
		log.Info("ws.read.peer_closed", "close_status", websocket.CloseStatus(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("ws.read.ctx_done")
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		log.Info("ws.read.conn_closed")
	default:
		log.Info("ws.read.fail", "err", err)
	}
}
