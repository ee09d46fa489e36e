package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/stwalsh4118/verrify/internal/caseid"
	"github.com/stwalsh4118/verrify/internal/models"
)

var terminalStages = []string{
	string(models.StageVerificationComplete),
	string(models.StageVerificationRejected),
}

var verificationColumns = []string{
	"v.id",
	"v.stage",
	"v.case_id",
	"v.parcel_id",
	"v.user_id",
	"v.reviewer_id",
	"v.reviewed_at",
	"v.admin_comments",
	"v.verification_files",
	"v.admin_stage_files",
	"v.created_at",
	"v.updated_at",
	"v.deleted_at",
}

type verificationRow struct {
	ID                string     `db:"id"`
	Stage             string     `db:"stage"`
	CaseID            *string    `db:"case_id"`
	ParcelID          string     `db:"parcel_id"`
	UserID            string     `db:"user_id"`
	ReviewerID        *string    `db:"reviewer_id"`
	ReviewedAt        *time.Time `db:"reviewed_at"`
	AdminComments     string     `db:"admin_comments"`
	VerificationFiles []string   `db:"verification_files"`
	AdminStageFiles   []string   `db:"admin_stage_files"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	DeletedAt         *time.Time `db:"deleted_at"`
}

func (r verificationRow) toModel() models.VerificationRequest {
	return models.VerificationRequest{
		ID:                r.ID,
		Stage:             models.Stage(r.Stage),
		CaseID:            r.CaseID,
		ParcelID:          r.ParcelID,
		UserID:            r.UserID,
		ReviewerID:        r.ReviewerID,
		ReviewedAt:        r.ReviewedAt,
		AdminComments:     r.AdminComments,
		VerificationFiles: nonNil(r.VerificationFiles),
		AdminStageFiles:   nonNil(r.AdminStageFiles),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		DeletedAt:         r.DeletedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func verificationSelect() sq.SelectBuilder {
	return psql().Select(verificationColumns...).
		From("verification_requests v").
		Where("v.deleted_at IS NULL")
}

// verificationRepository is the PostgreSQL implementation of VerificationRepository.
type verificationRepository struct {
	q querier
}

func (r *verificationRepository) getOne(ctx context.Context, b sq.SelectBuilder) (*models.VerificationRequest, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build verification query: %w", err)
	}

	var row verificationRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query verification: %w", err)
	}
	v := row.toModel()
	return &v, nil
}

func (r *verificationRepository) Get(ctx context.Context, id string) (*models.VerificationRequest, error) {
	return r.getOne(ctx, verificationSelect().Where(sq.Eq{"v.id": id}))
}

func (r *verificationRepository) GetForUpdate(ctx context.Context, id string) (*models.VerificationRequest, error) {
	return r.getOne(ctx, verificationSelect().Where(sq.Eq{"v.id": id}).Suffix("FOR UPDATE"))
}

func (r *verificationRepository) FindActiveByParcel(ctx context.Context, parcelID string) (*models.VerificationRequest, error) {
	return r.getOne(ctx, verificationSelect().
		Where(sq.Eq{"v.parcel_id": parcelID}).
		Where(sq.NotEq{"v.stage": terminalStages}).
		OrderBy("v.created_at DESC").
		Limit(1))
}

func (r *verificationRepository) Create(ctx context.Context, v *models.VerificationRequest) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	v.VerificationFiles = nonNil(v.VerificationFiles)
	v.AdminStageFiles = nonNil(v.AdminStageFiles)

	query, args, err := psql().Insert("verification_requests").
		Columns("id", "stage", "case_id", "parcel_id", "user_id", "reviewer_id", "reviewed_at",
			"admin_comments", "verification_files", "admin_stage_files", "created_at", "updated_at").
		Values(v.ID, string(v.Stage), v.CaseID, v.ParcelID, v.UserID, v.ReviewerID, v.ReviewedAt,
			v.AdminComments, v.VerificationFiles, v.AdminStageFiles, v.CreatedAt, v.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build verification insert: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to insert verification")
	}
	return nil
}

func (r *verificationRepository) Update(ctx context.Context, v *models.VerificationRequest) error {
	v.UpdatedAt = time.Now().UTC()

	query, args, err := psql().Update("verification_requests").
		Set("stage", string(v.Stage)).
		Set("case_id", v.CaseID).
		Set("reviewer_id", v.ReviewerID).
		Set("reviewed_at", v.ReviewedAt).
		Set("admin_comments", v.AdminComments).
		Set("verification_files", nonNil(v.VerificationFiles)).
		Set("admin_stage_files", nonNil(v.AdminStageFiles)).
		Set("updated_at", v.UpdatedAt).
		Set("deleted_at", v.DeletedAt).
		Where(sq.Eq{"id": v.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build verification update: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to update verification")
	}
	return nil
}

// caseIDLockSpace is the first key of the two-key advisory lock taken per
// case id year.
const caseIDLockSpace int32 = 0x5652 // "VR"

func (r *verificationRepository) LockCaseIDs(ctx context.Context, year int) error {
	if _, err := r.q.Exec(ctx, "SELECT pg_advisory_xact_lock($1::int4, $2::int4)", caseIDLockSpace, int32(year)); err != nil {
		return fmt.Errorf("failed to take case id lock for %d: %w", year, err)
	}
	return nil
}

// MaxCaseID orders by length first so VR-2025-1000 sorts above VR-2025-999.
func (r *verificationRepository) MaxCaseID(ctx context.Context, year int) (string, error) {
	var ids []string
	err := pgxscan.Select(ctx, r.q, &ids,
		`SELECT case_id FROM verification_requests
		 WHERE case_id LIKE $1
		 ORDER BY length(case_id) DESC, case_id DESC
		 LIMIT 1`,
		caseid.YearPattern(year))
	if err != nil {
		return "", fmt.Errorf("failed to query max case id for %d: %w", year, err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (r *verificationRepository) List(ctx context.Context, f models.VerificationFilter) ([]models.VerificationRequest, int, error) {
	where := sq.And{sq.Expr("v.deleted_at IS NULL")}
	if f.Stage != "" {
		where = append(where, sq.Eq{"v.stage": string(f.Stage)})
	}
	if f.ParcelID != "" {
		where = append(where, sq.Eq{"v.parcel_id": f.ParcelID})
	}
	if f.UserID != "" {
		where = append(where, sq.Eq{"v.user_id": f.UserID})
	}
	if f.Search != "" {
		where = append(where, sq.ILike{"v.case_id": "%" + f.Search + "%"})
	}

	total, err := count(ctx, r.q, psql().Select("COUNT(*)").From("verification_requests v").Where(where))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count verifications: %w", err)
	}

	page := f.Page.Normalize()
	query, args, err := psql().Select(verificationColumns...).
		From("verification_requests v").
		Where(where).
		OrderBy("v.created_at DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build verification list: %w", err)
	}

	var rows []verificationRow
	if err := pgxscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list verifications: %w", err)
	}

	out := make([]models.VerificationRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, total, nil
}

func count(ctx context.Context, q querier, b sq.SelectBuilder) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
