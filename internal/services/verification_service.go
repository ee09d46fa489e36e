package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/pin"
	"github.com/stwalsh4118/verrify/internal/repository"
	"github.com/stwalsh4118/verrify/internal/stages"
)

// InitiateInput starts a verification either for an existing parcel
// (ParcelID) or for a new one described by Parcel.
type InitiateInput struct {
	ParcelID          string
	Parcel            ParcelInput
	VerificationFiles []string

	// Contact is the caller's profile from the access token. Non-empty
	// fields refresh the stored contact used for notifications.
	Contact models.User
}

// UpdateVerificationInput edits a request that has not been submitted yet.
// A ParcelID different from the current one swaps the parcel; otherwise
// Parcel changes are applied to the current parcel while it is unverified.
type UpdateVerificationInput struct {
	ParcelID          *string
	Parcel            ParcelChanges
	VerificationFiles []string
}

// VerdictInput is a reviewer's decision.
type VerdictInput struct {
	Verdict  models.Verdict
	Comments string
}

// AdvanceInput moves a paid request one stage forward. Expected is the stage
// the admin saw when deciding to advance.
type AdvanceInput struct {
	Expected models.Stage
	Files    []string
	Comments string
}

// VerificationService runs the verification pipeline.
type VerificationService interface {
	Initiate(ctx context.Context, actor authz.Actor, in InitiateInput) (*models.VerificationRequest, error)
	Update(ctx context.Context, actor authz.Actor, id string, in UpdateVerificationInput) (*models.VerificationRequest, error)
	Submit(ctx context.Context, actor authz.Actor, id string) (*models.VerificationRequest, error)
	Assign(ctx context.Context, actor authz.Actor, id string) (*models.VerificationRequest, error)
	Verdict(ctx context.Context, actor authz.Actor, id string, in VerdictInput) (*models.VerificationRequest, error)

	// Advance moves a paid request through the review stages. Completing
	// the last stage re-validates the parcel boundary, assigns its PIN and
	// marks it verified in the same unit of work.
	Advance(ctx context.Context, actor authz.Actor, id string, in AdvanceInput) (*models.VerificationRequest, error)

	Get(ctx context.Context, actor authz.Actor, id string) (*models.VerificationRequest, error)
	ListMine(ctx context.Context, actor authz.Actor, page models.Page) (models.PageResult[models.VerificationRequest], error)
	ListAdmin(ctx context.Context, actor authz.Actor, filter models.VerificationFilter) (models.PageResult[models.VerificationRequest], error)
}

type verificationService struct {
	claimChecker
	store   repository.Store
	machine *stages.Machine
	pins    *pin.Generator
	events  eventSink
	log     *logger.Logger
	now     func() time.Time
}

// NewVerificationService wires the pipeline. The dispatcher may be nil to
// disable notifications.
func NewVerificationService(
	store repository.Store,
	machine *stages.Machine,
	validator *geometry.Validator,
	pins *pin.Generator,
	dispatcher *notify.Dispatcher,
	m *metrics.Metrics,
	log *logger.Logger,
) VerificationService {
	log = log.WithComponent("verifications")
	return &verificationService{
		claimChecker: claimChecker{validator: validator, metrics: m},
		store:        store,
		machine:      machine,
		pins:         pins,
		events:       newEventSink(store, dispatcher, log),
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// loadForUpdate locks the request row and returns it.
func loadForUpdate(ctx context.Context, tx repository.Repositories, id string) (*models.VerificationRequest, error) {
	v, err := tx.Verifications().GetForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification: %w", err)
	}
	if v == nil {
		return nil, ErrVerificationNotFound.WithDetail("verificationId", id)
	}
	return v, nil
}

func loadParcel(ctx context.Context, tx repository.Repositories, id string, lock bool) (*models.Parcel, error) {
	var (
		p   *models.Parcel
		err error
	)
	if lock {
		p, err = tx.Parcels().GetForUpdate(ctx, id)
	} else {
		p, err = tx.Parcels().Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load parcel: %w", err)
	}
	if p == nil {
		return nil, ErrParcelNotFound.WithDetail("parcelId", id)
	}
	return p, nil
}

// ensureNoActive rejects a parcel that already has an open verification.
func ensureNoActive(ctx context.Context, tx repository.Repositories, parcelID string) error {
	active, err := tx.Verifications().FindActiveByParcel(ctx, parcelID)
	if err != nil {
		return fmt.Errorf("failed to check active verifications: %w", err)
	}
	if active != nil {
		return ErrActiveVerification.
			WithDetail("parcelId", parcelID).
			WithDetail("verificationId", active.ID)
	}
	return nil
}

// asActiveConflict maps a uniqueness violation on the one-open-request rule
// to the domain error. A concurrent initiate can pass ensureNoActive and
// still lose at insert time.
func asActiveConflict(err error, parcelID string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrActiveVerification.WithDetail("parcelId", parcelID)
	}
	return err
}

func (s *verificationService) transitioned(v *models.VerificationRequest, from models.Stage) {
	s.metrics.IncStageTransition(string(v.Stage))
	s.log.Info("Verification stage changed", map[string]interface{}{
		"verification_id": v.ID,
		"from":            from,
		"to":              v.Stage,
	})
}

func (s *verificationService) Initiate(ctx context.Context, actor authz.Actor, in InitiateInput) (*models.VerificationRequest, error) {
	if in.ParcelID == "" {
		if err := in.Parcel.validate(); err != nil {
			return nil, err
		}
	}

	var v *models.VerificationRequest
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		if in.Contact.ID != "" || in.Contact.Email != "" {
			contact := in.Contact
			contact.ID = actor.UserID
			if err := tx.Users().Upsert(ctx, &contact); err != nil {
				return fmt.Errorf("failed to store contact: %w", err)
			}
		}
		user, err := tx.Users().Get(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			return ErrUserNotFound.WithDetail("userId", actor.UserID)
		}

		var parcel *models.Parcel
		if in.ParcelID != "" {
			parcel, err = loadParcel(ctx, tx, in.ParcelID, true)
			if err != nil {
				return err
			}
			if parcel.OwnerID != actor.UserID {
				return ErrNotParcelOwner
			}
			if err := ensureNoActive(ctx, tx, parcel.ID); err != nil {
				return err
			}
		} else {
			if err := s.validator.ValidateClaim(ctx, tx.Parcels(), in.Parcel.Polygon); err != nil {
				recordGeometryRejection(s.metrics, err)
				return err
			}
			parcel = in.Parcel.toParcel(actor.UserID)
			parcel.IsPublic = false
			if err := tx.Parcels().Create(ctx, parcel); err != nil {
				return fmt.Errorf("failed to create parcel: %w", err)
			}
		}

		v = &models.VerificationRequest{
			Stage:             models.StageInitiated,
			ParcelID:          parcel.ID,
			UserID:            actor.UserID,
			VerificationFiles: append([]string{}, in.VerificationFiles...),
			AdminStageFiles:   []string{},
		}
		if err := tx.Verifications().Create(ctx, v); err != nil {
			return asActiveConflict(err, parcel.ID)
		}
		v.Parcel = parcel
		return nil
	})
	if err != nil {
		s.log.Warn("Verification initiation rejected", map[string]interface{}{
			"user_id":   actor.UserID,
			"parcel_id": in.ParcelID,
			"error":     err.Error(),
		})
		return nil, err
	}

	s.transitioned(v, "")
	return v, nil
}

func (s *verificationService) Update(ctx context.Context, actor authz.Actor, id string, in UpdateVerificationInput) (*models.VerificationRequest, error) {
	var v *models.VerificationRequest
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		v, err = loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.machine.CanEdit(v, actor); err != nil {
			return err
		}

		if in.ParcelID != nil && *in.ParcelID != "" && *in.ParcelID != v.ParcelID {
			next, err := loadParcel(ctx, tx, *in.ParcelID, true)
			if err != nil {
				return err
			}
			if next.OwnerID != actor.UserID {
				return ErrNotParcelOwner
			}
			if err := ensureNoActive(ctx, tx, next.ID); err != nil {
				return err
			}
			v.ParcelID = next.ID
			v.Parcel = next
		} else {
			parcel, err := loadParcel(ctx, tx, v.ParcelID, true)
			if err != nil {
				return err
			}
			// Verified parcels keep their record; only the request changes.
			if parcel.Status.Editable() {
				if err := s.applyParcelChanges(ctx, tx, parcel, in.Parcel); err != nil {
					return err
				}
			}
			v.Parcel = parcel
		}

		if len(in.VerificationFiles) > 0 {
			v.VerificationFiles = append(append([]string{}, v.VerificationFiles...), in.VerificationFiles...)
		}
		if err := tx.Verifications().Update(ctx, v); err != nil {
			return asActiveConflict(err, v.ParcelID)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("Verification update rejected", map[string]interface{}{
			"verification_id": id,
			"error":           err.Error(),
		})
		return nil, err
	}

	s.log.Info("Verification updated", map[string]interface{}{
		"verification_id": v.ID,
		"parcel_id":       v.ParcelID,
	})
	return v, nil
}

func (s *verificationService) Submit(ctx context.Context, actor authz.Actor, id string) (*models.VerificationRequest, error) {
	var (
		v    *models.VerificationRequest
		from models.Stage
	)
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		v, err = loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = v.Stage
		to, err := s.machine.Submit(v, actor)
		if err != nil {
			return err
		}

		parcel, err := loadParcel(ctx, tx, v.ParcelID, true)
		if err != nil {
			return err
		}
		if parcel.Status.Editable() {
			// The parcel joins the active claims, so it must not collide
			// with one that got there first.
			if err := s.validateBoundary(ctx, tx, parcel); err != nil {
				return err
			}
			parcel.Status = models.ParcelPending
			if err := tx.Parcels().Update(ctx, parcel); err != nil {
				return fmt.Errorf("failed to update parcel: %w", err)
			}
		}

		v.Stage = to
		v.Parcel = parcel
		return tx.Verifications().Update(ctx, v)
	})
	if err != nil {
		s.log.Warn("Verification submission rejected", map[string]interface{}{
			"verification_id": id,
			"error":           err.Error(),
		})
		return nil, err
	}

	s.transitioned(v, from)
	s.events.stageChanged(ctx, v, v.Parcel.Name, "", nil)
	return v, nil
}

func (s *verificationService) Assign(ctx context.Context, actor authz.Actor, id string) (*models.VerificationRequest, error) {
	var (
		v    *models.VerificationRequest
		from models.Stage
	)
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		v, err = loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = v.Stage
		to, err := s.machine.Assign(v, actor)
		if err != nil {
			return err
		}
		reviewer := actor.UserID
		v.ReviewerID = &reviewer
		v.Stage = to
		return tx.Verifications().Update(ctx, v)
	})
	if err != nil {
		s.log.Warn("Verification assignment rejected", map[string]interface{}{
			"verification_id": id,
			"admin_id":        actor.UserID,
			"error":           err.Error(),
		})
		return nil, err
	}

	s.transitioned(v, from)
	s.events.stageChanged(ctx, v, s.events.parcelName(ctx, v.ParcelID), "", nil)
	return v, nil
}

func (s *verificationService) Verdict(ctx context.Context, actor authz.Actor, id string, in VerdictInput) (*models.VerificationRequest, error) {
	var (
		v    *models.VerificationRequest
		from models.Stage
	)
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		v, err = loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = v.Stage
		to, err := s.machine.Verdict(v, actor, in.Verdict)
		if err != nil {
			return err
		}

		parcel, err := loadParcel(ctx, tx, v.ParcelID, true)
		if err != nil {
			return err
		}
		if to == models.StageVerificationRejected && parcel.Status != models.ParcelVerified {
			parcel.Status = models.ParcelNotVerified
			if err := tx.Parcels().Update(ctx, parcel); err != nil {
				return fmt.Errorf("failed to update parcel: %w", err)
			}
		}

		reviewedAt := s.now()
		v.Stage = to
		v.ReviewedAt = &reviewedAt
		if in.Comments != "" {
			v.AdminComments = in.Comments
		}
		v.Parcel = parcel
		return tx.Verifications().Update(ctx, v)
	})
	if err != nil {
		s.log.Warn("Verdict rejected", map[string]interface{}{
			"verification_id": id,
			"admin_id":        actor.UserID,
			"error":           err.Error(),
		})
		return nil, err
	}

	s.transitioned(v, from)
	s.events.stageChanged(ctx, v, v.Parcel.Name, in.Comments, nil)
	return v, nil
}

func (s *verificationService) Advance(ctx context.Context, actor authz.Actor, id string, in AdvanceInput) (*models.VerificationRequest, error) {
	var (
		v    *models.VerificationRequest
		from models.Stage
	)
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		v, err = loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = v.Stage
		to, err := s.machine.Advance(v, actor, in.Expected)
		if err != nil {
			return err
		}

		var parcel *models.Parcel
		if to == models.StageVerificationComplete {
			parcel, err = s.markVerified(ctx, tx, v.ParcelID)
		} else {
			parcel, err = loadParcel(ctx, tx, v.ParcelID, false)
		}
		if err != nil {
			return err
		}

		v.Stage = to
		if in.Comments != "" {
			v.AdminComments = in.Comments
		}
		if len(in.Files) > 0 {
			v.AdminStageFiles = append(append([]string{}, v.AdminStageFiles...), in.Files...)
		}
		v.Parcel = parcel
		return tx.Verifications().Update(ctx, v)
	})
	if err != nil {
		s.log.Warn("Stage advance rejected", map[string]interface{}{
			"verification_id": id,
			"admin_id":        actor.UserID,
			"expected":        in.Expected,
			"error":           err.Error(),
		})
		return nil, err
	}

	s.transitioned(v, from)
	s.events.stageChanged(ctx, v, v.Parcel.Name, in.Comments, in.Files)
	return v, nil
}

// markVerified re-validates the parcel boundary under the claims lock,
// assigns a PIN if it has none, and flips it to VERIFIED.
func (s *verificationService) markVerified(ctx context.Context, tx repository.Repositories, parcelID string) (*models.Parcel, error) {
	if err := tx.Parcels().LockClaims(ctx); err != nil {
		return nil, fmt.Errorf("failed to lock claims: %w", err)
	}
	parcel, err := loadParcel(ctx, tx, parcelID, true)
	if err != nil {
		return nil, err
	}

	if err := s.validateBoundary(ctx, tx, parcel); err != nil {
		return nil, err
	}

	if !parcel.HasPIN() {
		code, err := s.pins.Generate(ctx, parcel.Location.State, s.now(), tx.Parcels())
		if err != nil {
			return nil, err
		}
		parcel.PIN = &code
	}
	parcel.Status = models.ParcelVerified
	if err := tx.Parcels().Update(ctx, parcel); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, pin.ErrExhausted.Wrap(err)
		}
		return nil, fmt.Errorf("failed to verify parcel: %w", err)
	}

	s.log.Info("Parcel verified", map[string]interface{}{
		"parcel_id": parcel.ID,
		"pin":       *parcel.PIN,
	})
	return parcel, nil
}

func (s *verificationService) Get(ctx context.Context, actor authz.Actor, id string) (*models.VerificationRequest, error) {
	v, err := s.store.Verifications().Get(ctx, id)
	if err != nil {
		s.log.Error("Failed to load verification", err, map[string]interface{}{
			"verification_id": id,
		})
		return nil, fmt.Errorf("failed to load verification: %w", err)
	}
	if v == nil {
		return nil, ErrVerificationNotFound.WithDetail("verificationId", id)
	}
	if err := s.machine.CanView(v, actor); err != nil {
		// Requests of other users look missing.
		return nil, ErrVerificationNotFound.WithDetail("verificationId", id)
	}

	parcel, err := s.store.Parcels().Get(ctx, v.ParcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parcel: %w", err)
	}
	v.Parcel = parcel
	return v, nil
}

func (s *verificationService) ListMine(ctx context.Context, actor authz.Actor, page models.Page) (models.PageResult[models.VerificationRequest], error) {
	return s.list(ctx, models.VerificationFilter{UserID: actor.UserID, Page: page})
}

func (s *verificationService) ListAdmin(ctx context.Context, actor authz.Actor, filter models.VerificationFilter) (models.PageResult[models.VerificationRequest], error) {
	if !s.machine.Policy().IsAdmin(actor) {
		return models.PageResult[models.VerificationRequest]{}, ErrAdminRequired
	}
	if filter.Stage != "" && !filter.Stage.Valid() {
		return models.PageResult[models.VerificationRequest]{}, ErrInvalidStage.WithDetail("stage", filter.Stage)
	}
	return s.list(ctx, filter)
}

func (s *verificationService) list(ctx context.Context, filter models.VerificationFilter) (models.PageResult[models.VerificationRequest], error) {
	filter.Page = filter.Page.Normalize()
	items, total, err := s.store.Verifications().List(ctx, filter)
	if err != nil {
		s.log.Error("Failed to list verifications", err, map[string]interface{}{
			"user_id": filter.UserID,
			"stage":   filter.Stage,
		})
		return models.PageResult[models.VerificationRequest]{}, fmt.Errorf("failed to list verifications: %w", err)
	}

	for i := range items {
		p, err := s.store.Parcels().Get(ctx, items[i].ParcelID)
		if err != nil {
			return models.PageResult[models.VerificationRequest]{}, fmt.Errorf("failed to load parcel: %w", err)
		}
		items[i].Parcel = p
	}
	return models.NewPageResult(items, total, filter.Page), nil
}
