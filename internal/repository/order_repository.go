package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/verrify/internal/models"
)

var orderColumns = []string{
	"o.id",
	"o.amount::text AS amount",
	"o.currency",
	"o.status",
	"o.user_id",
	"o.verification_id",
	"o.created_at",
	"o.updated_at",
}

type orderRow struct {
	ID             string    `db:"id"`
	Amount         string    `db:"amount"`
	Currency       string    `db:"currency"`
	Status         string    `db:"status"`
	UserID         string    `db:"user_id"`
	VerificationID string    `db:"verification_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r orderRow) toModel() (models.Order, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s has invalid amount %q: %w", r.ID, r.Amount, err)
	}
	return models.Order{
		ID:             r.ID,
		Amount:         amount,
		Currency:       r.Currency,
		Status:         models.OrderStatus(r.Status),
		UserID:         r.UserID,
		VerificationID: r.VerificationID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// orderRepository is the PostgreSQL implementation of OrderRepository.
type orderRepository struct {
	q querier
}

func (r *orderRepository) getOne(ctx context.Context, where sq.Sqlizer) (*models.Order, error) {
	query, args, err := psql().Select(orderColumns...).From("orders o").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order query: %w", err)
	}

	var row orderRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	o, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	return r.getOne(ctx, sq.Eq{"o.id": id})
}

func (r *orderRepository) FindPendingByVerification(ctx context.Context, verificationID string) (*models.Order, error) {
	return r.getOne(ctx, sq.Eq{"o.verification_id": verificationID, "o.status": string(models.OrderPending)})
}

func (r *orderRepository) Create(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	query, args, err := psql().Insert("orders").
		Columns("id", "amount", "currency", "status", "user_id", "verification_id", "created_at", "updated_at").
		Values(o.ID, sq.Expr("?::numeric", o.Amount.String()), o.Currency, string(o.Status),
			o.UserID, o.VerificationID, o.CreatedAt, o.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build order insert: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to insert order")
	}
	return nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error {
	query, args, err := psql().Update("orders").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build order update: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to update order status")
	}
	return nil
}

func (r *orderRepository) List(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	where := sq.And{}
	if f.Status != "" {
		where = append(where, sq.Eq{"o.status": string(f.Status)})
	}
	if f.UserID != "" {
		where = append(where, sq.Eq{"o.user_id": f.UserID})
	}

	total, err := count(ctx, r.q, psql().Select("COUNT(*)").From("orders o").Where(where))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	page := f.Page.Normalize()
	query, args, err := psql().Select(orderColumns...).
		From("orders o").
		Where(where).
		OrderBy("o.created_at DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build order list: %w", err)
	}

	var rows []orderRow
	if err := pgxscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	out := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		o, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, nil
}
