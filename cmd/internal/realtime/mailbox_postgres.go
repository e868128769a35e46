package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMailbox keeps queued messages in <schema>.chat_mailbox.
//
// Ownership model:
// - PostgresMailbox does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Every operation takes a per-recipient transactional advisory lock, so
//     capacity checks, seq allocation and drains never interleave.
//   - seq orders a recipient queue. Enqueue allocates max+1; Restore allocates
//     below the current min so restored entries stay at the head.
type PostgresMailbox struct {
	pool   *pgxpool.Pool
	schema string
	max    int
}

// PostgresMailboxOption configures PostgresMailbox behavior.
type PostgresMailboxOption func(*PostgresMailbox) error

// WithMailboxSchema sets the DB schema holding chat_mailbox (default: "public").
func WithMailboxSchema(schema string) PostgresMailboxOption {
	return func(m *PostgresMailbox) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		m.schema = schema
		return nil
	}
}

// NewPostgresMailbox constructs a Postgres-backed Mailbox holding at most max entries per recipient.
func NewPostgresMailbox(pool *pgxpool.Pool, max int, opts ...PostgresMailboxOption) (*PostgresMailbox, error) {
	if max <= 0 {
		max = defaultMailboxMax
	}
	m := &PostgresMailbox{
		pool:   pool,
		schema: "public",
		max:    max,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return m, nil
}

// Close is a no-op because the pool is owned by the caller.
func (m *PostgresMailbox) Close() error { return nil }

// Enqueue appends msg, failing with ErrMailboxFull at capacity.
func (m *PostgresMailbox) Enqueue(ctx context.Context, recipient UserID, msg RoutedMessage) error {
	err := m.inTx(ctx, recipient, func(tx pgx.Tx, table string) error {
		var (
			n      int
			maxSeq int64
		)
		if err := tx.QueryRow(ctx,
			`SELECT count(*), COALESCE(max(seq), 0) FROM `+table+` WHERE recipient = $1`,
			int64(recipient),
		).Scan(&n, &maxSeq); err != nil {
			return err
		}
		if n >= m.max {
			return ErrMailboxFull
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO `+table+` (recipient, seq, sender, content, queued_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			int64(recipient), maxSeq+1, int64(msg.Sender), msg.Content, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrMailboxFull) {
			return fmt.Errorf("%w: %w: recipient=%d", ErrStoreFailure, ErrMailboxFull, recipient)
		}
		return fmt.Errorf("%w: postgres enqueue: %w", ErrStoreFailure, err)
	}
	return nil
}

// Drain deletes and returns the recipient queue in seq order.
func (m *PostgresMailbox) Drain(ctx context.Context, recipient UserID) ([]RoutedMessage, error) {
	var out []RoutedMessage
	err := m.inTx(ctx, recipient, func(tx pgx.Tx, table string) error {
		rows, err := tx.Query(ctx,
			`WITH drained AS (
			   DELETE FROM `+table+` WHERE recipient = $1
			   RETURNING seq, sender, content
			 )
			 SELECT sender, content FROM drained ORDER BY seq ASC`,
			int64(recipient),
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (RoutedMessage, error) {
			var (
				sender  int64
				content string
			)
			if err := row.Scan(&sender, &content); err != nil {
				return RoutedMessage{}, err
			}
			return RoutedMessage{Sender: UserID(sender), Content: content}, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: postgres drain: %w", ErrStoreFailure, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Restore puts msgs back at the head of the queue in their original order.
func (m *PostgresMailbox) Restore(ctx context.Context, recipient UserID, msgs []RoutedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	err := m.inTx(ctx, recipient, func(tx pgx.Tx, table string) error {
		var minSeq int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(min(seq), 1) FROM `+table+` WHERE recipient = $1`,
			int64(recipient),
		).Scan(&minSeq); err != nil {
			return err
		}

		now := time.Now().UTC()
		base := minSeq - int64(len(msgs))

		batch := &pgx.Batch{}
		for i, msg := range msgs {
			batch.Queue(
				`INSERT INTO `+table+` (recipient, seq, sender, content, queued_at)
				 VALUES ($1, $2, $3, $4, $5)`,
				int64(recipient), base+int64(i), int64(msg.Sender), msg.Content, now,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: postgres restore: %w", ErrStoreFailure, err)
	}
	return nil
}

func (m *PostgresMailbox) inTx(ctx context.Context, recipient UserID, fn func(tx pgx.Tx, table string) error) error {
	if m == nil || m.pool == nil {
		return errors.New("realtime: nil mailbox")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, mailboxLockKey(recipient)); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err := fn(tx, pgIdent(m.schema, "chat_mailbox")); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// mailboxLockKey namespaces recipient locks away from other advisory lock users.
func mailboxLockKey(recipient UserID) int64 {
	const ns int64 = 0x6674_6d62 << 32 // "ftmb"
	return ns ^ int64(recipient)
}

// MailboxSchemaSQL returns the DDL for chat_mailbox in schema.
func MailboxSchemaSQL(schema string) (string, error) {
	if !isValidPGIdent(schema) {
		return "", errors.New("realtime: invalid schema identifier")
	}
	table := pgIdent(schema, "chat_mailbox")
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  recipient BIGINT NOT NULL,
  seq       BIGINT NOT NULL,
  sender    BIGINT NOT NULL,
  content   TEXT NOT NULL,
  queued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (recipient, seq)
);`, table), nil
}
