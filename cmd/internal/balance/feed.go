package balance

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fintrack/cmd/internal/auth/session"
	v1 "fintrack/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultInterval     = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	queryTimeout        = 5 * time.Second
)

// Authenticator resolves an access token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

// FeedConfig holds the feed knobs.
type FeedConfig struct {
	Interval       time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
	DevInsecure    bool
}

// Feed pushes the caller's balance every Interval until the peer goes away.
type Feed struct {
	log    *slog.Logger
	cfg    FeedConfig
	auth   Authenticator
	source Source
	rates  RateProvider
}

// NewFeed constructs a Feed. rates may be nil.
func NewFeed(log *slog.Logger, cfg FeedConfig, auth Authenticator, source Source, rates RateProvider) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Feed{log: log, cfg: cfg, auth: auth, source: source, rates: rates}
}

// ServeHTTP upgrades the request and runs the feed loop.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := session.TokenFromRequest(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     f.cfg.OriginPatterns,
		InsecureSkipVerify: f.cfg.DevInsecure,
	})
	if err != nil {
		f.log.Error("balance.accept.fail", "err", err)
		return
	}
	defer conn.CloseNow()

	userID, err := f.auth.Authenticate(r.Context(), token)
	if err != nil {
		f.log.Info("balance.reject.auth", "err", err, "remote", r.RemoteAddr)
		if b, merr := json.Marshal(v1.ErrorFrame{Error: v1.NoticeTokenError}); merr == nil {
			wctx, cancel := context.WithTimeout(r.Context(), f.cfg.WriteTimeout)
			_ = conn.Write(wctx, websocket.MessageText, b)
			cancel()
		}
		_ = conn.Close(websocket.StatusPolicyViolation, "token error")
		return
	}

	// The peer never sends anything; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	log := f.log.With("user_id", userID)
	log.Info("balance.feed.start")

	t := time.NewTicker(f.cfg.Interval)
	defer t.Stop()

	for {
		if err := f.push(ctx, conn, userID, log); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Info("balance.feed.write_fail", "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			log.Info("balance.feed.stop")
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-t.C:
		}
	}
}

// push computes one frame and writes it. Lookup failures are logged and skipped.
func (f *Feed) push(ctx context.Context, conn *websocket.Conn, userID int64, log *slog.Logger) error {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	bal, err := f.source.Balance(qctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("balance.source.fail", "err", err)
		return nil
	}

	var rates *Rates
	if f.rates != nil {
		r, err := f.rates.Rates(qctx)
		if err != nil {
			log.Info("balance.rates.fail", "err", err)
		} else {
			rates = &r
		}
	}

	wctx, wcancel := context.WithTimeout(ctx, f.cfg.WriteTimeout)
	defer wcancel()
	return conn.Write(wctx, websocket.MessageText, []byte(Format(bal, rates)))
}
