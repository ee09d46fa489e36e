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

var transactionColumns = []string{
	"t.id",
	"t.amount::text AS amount",
	"t.reference",
	"t.status",
	"t.order_id",
	"t.created_at",
	"t.updated_at",
}

type transactionRow struct {
	ID        string    `db:"id"`
	Amount    string    `db:"amount"`
	Reference string    `db:"reference"`
	Status    string    `db:"status"`
	OrderID   string    `db:"order_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r transactionRow) toModel() (models.Transaction, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction %s has invalid amount %q: %w", r.ID, r.Amount, err)
	}
	return models.Transaction{
		ID:        r.ID,
		Amount:    amount,
		Reference: r.Reference,
		Status:    models.TransactionStatus(r.Status),
		OrderID:   r.OrderID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// aggregateRow flattens a transaction, its order and the order's
// verification. Verification columns are nullable because the join is outer.
type aggregateRow struct {
	transactionRow
	OrderAmount        string     `db:"o_amount"`
	OrderCurrency      string     `db:"o_currency"`
	OrderStatus        string     `db:"o_status"`
	OrderUserID        string     `db:"o_user_id"`
	OrderVerification  string     `db:"o_verification_id"`
	OrderCreatedAt     time.Time  `db:"o_created_at"`
	OrderUpdatedAt     time.Time  `db:"o_updated_at"`
	VerificationID     *string    `db:"v_id"`
	VerificationStage  *string    `db:"v_stage"`
	VerificationCaseID *string    `db:"v_case_id"`
	VerificationParcel *string    `db:"v_parcel_id"`
	VerificationUser   *string    `db:"v_user_id"`
	VerificationCreate *time.Time `db:"v_created_at"`
	VerificationUpdate *time.Time `db:"v_updated_at"`
}

// transactionRepository is the PostgreSQL implementation of TransactionRepository.
type transactionRepository struct {
	q querier
}

func (r *transactionRepository) LockByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	query, args, err := psql().Select(transactionColumns...).
		From("transactions t").
		Where(sq.Eq{"t.reference": reference}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction lock: %w", err)
	}

	var row transactionRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock transaction %s: %w", reference, err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) GetAggregate(ctx context.Context, reference string) (*PaymentAggregate, error) {
	cols := append([]string{}, transactionColumns...)
	cols = append(cols,
		"o.amount::text AS o_amount",
		"o.currency AS o_currency",
		"o.status AS o_status",
		"o.user_id AS o_user_id",
		"o.verification_id AS o_verification_id",
		"o.created_at AS o_created_at",
		"o.updated_at AS o_updated_at",
		"v.id AS v_id",
		"v.stage AS v_stage",
		"v.case_id AS v_case_id",
		"v.parcel_id AS v_parcel_id",
		"v.user_id AS v_user_id",
		"v.created_at AS v_created_at",
		"v.updated_at AS v_updated_at",
	)
	query, args, err := psql().Select(cols...).
		From("transactions t").
		Join("orders o ON o.id = t.order_id").
		LeftJoin("verification_requests v ON v.id = o.verification_id AND v.deleted_at IS NULL").
		Where(sq.Eq{"t.reference": reference}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment aggregate query: %w", err)
	}

	var row aggregateRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", reference, err)
	}

	t, err := row.transactionRow.toModel()
	if err != nil {
		return nil, err
	}
	o, err := orderRow{
		ID:             row.OrderID,
		Amount:         row.OrderAmount,
		Currency:       row.OrderCurrency,
		Status:         row.OrderStatus,
		UserID:         row.OrderUserID,
		VerificationID: row.OrderVerification,
		CreatedAt:      row.OrderCreatedAt,
		UpdatedAt:      row.OrderUpdatedAt,
	}.toModel()
	if err != nil {
		return nil, err
	}

	agg := &PaymentAggregate{Transaction: t, Order: o}
	if row.VerificationID != nil {
		v := &models.VerificationRequest{
			ID:                *row.VerificationID,
			Stage:             models.Stage(deref(row.VerificationStage)),
			CaseID:            row.VerificationCaseID,
			ParcelID:          deref(row.VerificationParcel),
			UserID:            deref(row.VerificationUser),
			VerificationFiles: []string{},
			AdminStageFiles:   []string{},
		}
		if row.VerificationCreate != nil {
			v.CreatedAt = *row.VerificationCreate
		}
		if row.VerificationUpdate != nil {
			v.UpdatedAt = *row.VerificationUpdate
		}
		agg.Verification = v
	}
	return agg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *transactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	query, args, err := psql().Insert("transactions").
		Columns("id", "amount", "reference", "status", "order_id", "created_at", "updated_at").
		Values(t.ID, sq.Expr("?::numeric", t.Amount.String()), t.Reference, string(t.Status),
			t.OrderID, t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build transaction insert: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to insert transaction")
	}
	return nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	query, args, err := psql().Update("transactions").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build transaction update: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

func (r *transactionRepository) List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, int, error) {
	where := sq.And{}
	if f.Status != "" {
		where = append(where, sq.Eq{"t.status": string(f.Status)})
	}
	if f.OrderID != "" {
		where = append(where, sq.Eq{"t.order_id": f.OrderID})
	}
	if f.UserID != "" {
		where = append(where, sq.Eq{"o.user_id": f.UserID})
	}
	if f.Search != "" {
		where = append(where, sq.ILike{"t.reference": "%" + f.Search + "%"})
	}

	total, err := count(ctx, r.q, psql().Select("COUNT(*)").
		From("transactions t").
		Join("orders o ON o.id = t.order_id").
		Where(where))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	page := f.Page.Normalize()
	query, args, err := psql().Select(transactionColumns...).
		From("transactions t").
		Join("orders o ON o.id = t.order_id").
		Where(where).
		OrderBy("t.created_at DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build transaction list: %w", err)
	}

	var rows []transactionRow
	if err := pgxscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	out := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, nil
}
