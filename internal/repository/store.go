package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stwalsh4118/verrify/internal/database"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func psql() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

const uniqueViolation = "23505"

// mapWriteError turns unique violations into ErrDuplicate.
func mapWriteError(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w (%s)", what, ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type repos struct {
	parcels       *parcelRepository
	verifications *verificationRepository
	orders        *orderRepository
	transactions  *transactionRepository
	users         *userRepository
}

func newRepos(q querier) *repos {
	return &repos{
		parcels:       &parcelRepository{q: q},
		verifications: &verificationRepository{q: q},
		orders:        &orderRepository{q: q},
		transactions:  &transactionRepository{q: q},
		users:         &userRepository{q: q},
	}
}

func (r *repos) Parcels() ParcelRepository             { return r.parcels }
func (r *repos) Verifications() VerificationRepository { return r.verifications }
func (r *repos) Orders() OrderRepository               { return r.orders }
func (r *repos) Transactions() TransactionRepository   { return r.transactions }
func (r *repos) Users() UserRepository                 { return r.users }

// postgresStore is the PostgreSQL implementation of Store.
type postgresStore struct {
	*repos
	db *database.Database
}

// NewStore creates a Store backed by the given database.
func NewStore(db *database.Database) Store {
	return &postgresStore{
		repos: newRepos(db.Pool),
		db:    db,
	}
}

func (s *postgresStore) WithTx(ctx context.Context, fn func(tx Repositories) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(newRepos(tx))
	})
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
