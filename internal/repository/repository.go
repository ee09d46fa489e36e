// Package repository defines persistence access for parcels, verification
// requests, orders, payment transactions and user contacts, and implements
// it on PostgreSQL/PostGIS. Lookups return nil, nil when a row does not
// exist; only real failures are errors.
package repository

import (
	"context"
	"errors"

	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/models"
)

// ErrDuplicate is returned when a write violates a uniqueness rule, such as a
// second open verification for a parcel or a second pending order.
var ErrDuplicate = errors.New("duplicate record")

// ParcelRepository defines the interface for parcel data access operations.
type ParcelRepository interface {
	Get(ctx context.Context, id string) (*models.Parcel, error)

	// GetForUpdate locks the parcel row until the surrounding transaction
	// ends and then loads the parcel.
	GetForUpdate(ctx context.Context, id string) (*models.Parcel, error)

	// Create inserts the parcel and its location, filling in ID and timestamps.
	Create(ctx context.Context, p *models.Parcel) error

	// Update writes every mutable parcel and location field.
	Update(ctx context.Context, p *models.Parcel) error

	PINExists(ctx context.Context, pin string) (bool, error)

	// OverlapCandidates returns PENDING and VERIFIED parcels whose boundary
	// may intersect polygon, skipping excludeIDs.
	OverlapCandidates(ctx context.Context, polygon models.Polygon, excludeIDs []string) ([]geometry.Candidate, error)

	// LockClaims serializes geometry re-validation for the rest of the
	// surrounding transaction.
	LockClaims(ctx context.Context) error

	// FindByPoint finds the verified parcel that contains the given lat/lng point.
	FindByPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error)

	// FindNearby finds verified parcels within radiusMeters of the point,
	// closest first.
	FindNearby(ctx context.Context, lat, lng float64, radiusMeters int) ([]models.ParcelWithDistance, error)
}

// VerificationRepository defines the interface for verification request access.
type VerificationRepository interface {
	Get(ctx context.Context, id string) (*models.VerificationRequest, error)

	// GetForUpdate locks the single verification row, without joins, and
	// returns it.
	GetForUpdate(ctx context.Context, id string) (*models.VerificationRequest, error)

	Create(ctx context.Context, v *models.VerificationRequest) error
	Update(ctx context.Context, v *models.VerificationRequest) error

	// FindActiveByParcel returns the non-terminal verification of a parcel.
	FindActiveByParcel(ctx context.Context, parcelID string) (*models.VerificationRequest, error)

	// LockCaseIDs serializes case id allocation for year until the
	// surrounding transaction ends. Call it before MaxCaseID.
	LockCaseIDs(ctx context.Context, year int) error

	// MaxCaseID returns the highest case id issued in year, or "".
	MaxCaseID(ctx context.Context, year int) (string, error)

	List(ctx context.Context, filter models.VerificationFilter) ([]models.VerificationRequest, int, error)
}

// OrderRepository defines the interface for order access.
type OrderRepository interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	FindPendingByVerification(ctx context.Context, verificationID string) (*models.Order, error)
	Create(ctx context.Context, o *models.Order) error
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
}

// PaymentAggregate is a transaction with the order it pays and the
// verification behind that order.
type PaymentAggregate struct {
	Transaction  models.Transaction
	Order        models.Order
	Verification *models.VerificationRequest
}

// TransactionRepository defines the interface for payment transaction access.
type TransactionRepository interface {
	// LockByReference locks the single transaction row with the given
	// provider reference and returns it.
	LockByReference(ctx context.Context, reference string) (*models.Transaction, error)

	// GetAggregate reads the transaction with its order and verification
	// without taking locks.
	GetAggregate(ctx context.Context, reference string) (*PaymentAggregate, error)

	Create(ctx context.Context, t *models.Transaction) error
	UpdateStatus(ctx context.Context, id string, status models.TransactionStatus) error
	List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error)
}

// UserRepository reads and mirrors user contact records.
type UserRepository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, u *models.User) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Parcels() ParcelRepository
	Verifications() VerificationRepository
	Orders() OrderRepository
	Transactions() TransactionRepository
	Users() UserRepository
}

// Store gives pooled access to the repositories and runs units of work.
type Store interface {
	Repositories

	// WithTx runs fn in one transaction. Any error returned by fn rolls back
	// every write made through the repositories it was given.
	WithTx(ctx context.Context, fn func(tx Repositories) error) error

	Ping(ctx context.Context) error
}
