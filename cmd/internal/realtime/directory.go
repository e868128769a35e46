package realtime

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory lists every known user identity. Group broadcasts fan out to it and
// direct recipients are checked against it.
type Directory interface {
	ListUserIDs(ctx context.Context) ([]UserID, error)
}

// MemoryDirectory is a set of identities used when no database is configured.
// The gateway calls Remember for every authenticated user.
type MemoryDirectory struct {
	mu  sync.RWMutex
	ids map[UserID]struct{}
}

// NewMemoryDirectory constructs a MemoryDirectory seeded with ids.
func NewMemoryDirectory(ids ...UserID) *MemoryDirectory {
	d := &MemoryDirectory{ids: make(map[UserID]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

// Remember adds id to the directory.
func (d *MemoryDirectory) Remember(id UserID) {
	d.mu.Lock()
	d.ids[id] = struct{}{}
	d.mu.Unlock()
}

// ListUserIDs returns the known ids in ascending order.
func (d *MemoryDirectory) ListUserIDs(ctx context.Context) ([]UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	out := make([]UserID, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	d.mu.RUnlock()

	slices.Sort(out)
	return out, nil
}

// PostgresDirectory reads user ids from the users table.
//
// It does NOT own the pool; the app closes it.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// DirectoryOption configures PostgresDirectory behavior.
type DirectoryOption func(*PostgresDirectory) error

// WithDirectorySchema sets the schema holding the users table (default: "public").
func WithDirectorySchema(schema string) DirectoryOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a directory backed by PostgreSQL.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...DirectoryOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return d, nil
}

// ListUserIDs returns every user id ordered ascending.
func (d *PostgresDirectory) ListUserIDs(ctx context.Context) ([]UserID, error) {
	if d == nil || d.pool == nil {
		return nil, errors.New("realtime: nil directory")
	}

	rows, err := d.pool.Query(ctx, `SELECT id FROM `+pgIdent(d.schema, "users")+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}

	out := make([]UserID, len(ids))
	for i, id := range ids {
		out[i] = UserID(id)
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
