package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	v1 "fintrack/shared/contracts/chat/v1"
)

// RouteResult describes what happened to each target of one chat message.
type RouteResult struct {
	Delivered []UserID
	Queued    []UserID
	Unknown   []UserID
	Failed    map[UserID]error
}

// Router resolves a chat message into live deliveries or mailbox entries.
//
// Validation order (first match wins): empty text, group broadcast, missing
// recipient, no known recipient, direct delivery.
type Router struct {
	log       *slog.Logger
	registry  *Registry
	mailbox   Mailbox
	directory Directory
	metrics   *Metrics
}

// NewRouter constructs a Router. All collaborators except metrics are required.
func NewRouter(log *slog.Logger, registry *Registry, mailbox Mailbox, directory Directory, metrics *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:       log,
		registry:  registry,
		mailbox:   mailbox,
		directory: directory,
		metrics:   metrics,
	}
}

// Route validates msg and delivers it on behalf of sender.
//
// Validation failures return ErrEmptyMessage, ErrNoRecipient or *UnknownRecipientError
// with no delivery attempted. Per-target mailbox failures do not stop the other
// targets; they are listed in RouteResult.Failed and joined into the returned error.
//
// Routing is detached from ctx cancellation: a sender that disconnects mid-route
// does not abort the lookup or the deliveries to other users.
func (r *Router) Route(ctx context.Context, sender UserID, msg v1.ChatMessage) (RouteResult, error) {
	ctx = context.WithoutCancel(ctx)

	if msg.Message == "" {
		r.metrics.routeError("empty_message")
		return RouteResult{}, ErrEmptyMessage
	}

	if msg.Group {
		known, err := r.knownUsers(ctx)
		if err != nil {
			return RouteResult{}, err
		}
		targets := make([]UserID, 0, len(known))
		for _, id := range known {
			if id != sender {
				targets = append(targets, id)
			}
		}
		return r.fanout(ctx, sender, msg.Message, targets, nil)
	}

	if len(msg.Recipient) == 0 {
		r.metrics.routeError("no_recipient")
		return RouteResult{}, ErrNoRecipient
	}

	known, err := r.knownUsers(ctx)
	if err != nil {
		return RouteResult{}, err
	}
	knownSet := make(map[UserID]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	requested := dedupeIDs(msg.Recipient)
	targets := make([]UserID, 0, len(requested))
	var unknown []UserID
	for _, id := range requested {
		if _, ok := knownSet[id]; ok {
			targets = append(targets, id)
		} else {
			unknown = append(unknown, id)
		}
	}

	if len(targets) == 0 {
		r.metrics.routeError("unknown_recipient")
		ids := make([]UserID, len(msg.Recipient))
		for i, id := range msg.Recipient {
			ids[i] = UserID(id)
		}
		return RouteResult{}, &UnknownRecipientError{IDs: ids}
	}

	return r.fanout(ctx, sender, msg.Message, targets, unknown)
}

func (r *Router) knownUsers(ctx context.Context) ([]UserID, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	ids, err := r.directory.ListUserIDs(ctx)
	if err != nil {
		r.metrics.routeError("directory")
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return ids, nil
}

func (r *Router) fanout(ctx context.Context, sender UserID, content string, targets, unknown []UserID) (RouteResult, error) {
	res := RouteResult{Unknown: unknown}
	msg := RoutedMessage{Sender: sender, Content: content}

	var errs []error
	for _, target := range targets {
		if err := r.deliver(ctx, target, msg, &res); err != nil {
			if res.Failed == nil {
				res.Failed = make(map[UserID]error)
			}
			res.Failed[target] = err
			errs = append(errs, &DeliveryError{Target: target, Err: err})
		}
	}

	if len(errs) > 0 {
		r.metrics.routeError("store")
		return res, errors.Join(errs...)
	}
	return res, nil
}

// deliver writes msg to target's live connection, falling back to the mailbox
// when the target is offline or the write fails. A write that fails because the
// target reconnected meanwhile is retried once on the new connection.
func (r *Router) deliver(ctx context.Context, target UserID, msg RoutedMessage, res *RouteResult) error {
	var tried *Connection
	for attempt := 0; attempt < 2; attempt++ {
		conn, ok := r.registry.Lookup(target)
		if !ok || conn == tried || !conn.Connected() {
			break
		}
		tried = conn

		err := conn.Deliver(ctx, msg)
		if err == nil {
			res.Delivered = append(res.Delivered, target)
			r.metrics.delivered(pathLive)
			return nil
		}
		r.log.Info("chat.deliver.live_fail",
			"target", target,
			"session_id", conn.SessionID,
			"err", err,
		)
	}

	sctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	if err := r.mailbox.Enqueue(sctx, target, msg); err != nil {
		r.log.Error("chat.deliver.enqueue_fail", "target", target, "sender", msg.Sender, "err", err)
		return err
	}
	res.Queued = append(res.Queued, target)
	r.metrics.delivered(pathMailbox)
	return nil
}

func dedupeIDs(in []int64) []UserID {
	seen := make(map[int64]struct{}, len(in))
	out := make([]UserID, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, UserID(id))
	}
	return out
}
