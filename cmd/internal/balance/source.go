package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source computes the current balance of one user.
type Source interface {
	Balance(ctx context.Context, userID int64) (*big.Rat, error)
}

// PostgresSource sums <schema>.transactions.
//
// It does NOT own the pool; the app closes it.
type PostgresSource struct {
	pool   *pgxpool.Pool
	schema string
}

// Option configures PostgresSource behavior.
type Option func(*PostgresSource) error

// WithSchema sets the schema holding the transactions table (default: "public").
func WithSchema(schema string) Option {
	return func(s *PostgresSource) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("balance: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("balance: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresSource constructs a Source backed by PostgreSQL.
func NewPostgresSource(pool *pgxpool.Pool, opts ...Option) (*PostgresSource, error) {
	s := &PostgresSource{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("balance: nil pool")
	}
	return s, nil
}

// Balance returns sum(income) - sum(other types) for userID.
// amount is NUMERIC; it is read as text to keep it exact.
func (s *PostgresSource) Balance(ctx context.Context, userID int64) (*big.Rat, error) {
	table := pgx.Identifier{s.schema, "transactions"}.Sanitize()

	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE -amount END), 0)::text
		   FROM `+table+`
		  WHERE id_user = $1`,
		userID,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	v, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("%w: bad numeric %q", ErrSourceUnavailable, raw)
	}
	return v, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
