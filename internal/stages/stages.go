// Package stages is the verification stage machine: the allowed stage graph
// and the guards deciding who may move a request along it. It performs no
// I/O; callers load the request under a row lock, ask the machine for the
// next stage and persist the result.
package stages

import (
	"github.com/stwalsh4118/verrify/internal/apperr"
	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/models"
)

var (
	ErrNotAdvanceable   = apperr.Conflict("STAGE_NOT_ADVANCEABLE", "verification cannot be advanced from its current stage")
	ErrWrongStage       = apperr.Conflict("INVALID_STAGE", "verification is not in the required stage")
	ErrStageChanged     = apperr.Conflict("STAGE_CHANGED", "verification stage changed since it was read")
	ErrAlreadyAssigned  = apperr.Conflict("ALREADY_ASSIGNED", "verification is already assigned to a reviewer")
	ErrNotOwner         = apperr.Authorization("NOT_OWNER", "only the requesting user may perform this action")
	ErrNotAdmin         = apperr.Authorization("ADMIN_REQUIRED", "only admins may perform this action")
	ErrNotReviewer      = apperr.Authorization("NOT_ASSIGNED_REVIEWER", "only the assigned reviewer may perform this action")
	ErrInvalidVerdict   = apperr.Validation("INVALID_VERDICT", "verdict must be ACCEPTED or REJECTED")
	ErrExpectedRequired = apperr.Validation("EXPECTED_STAGE_REQUIRED", "the stage being advanced from is required")
)

// advanceTable is the only source of admin-driven forward moves. Stages
// missing from it cannot be advanced.
var advanceTable = map[models.Stage]models.Stage{
	models.StagePaymentVerified: models.Stage1,
	models.Stage1:               models.Stage2,
	models.Stage2:               models.Stage3,
	models.Stage3:               models.StageVerificationComplete,
}

// successors is the full stage graph, including user, reviewer and payment
// driven moves.
var successors = map[models.Stage][]models.Stage{
	models.StageInitiated:            {models.StagePendingAcceptance},
	models.StagePendingAcceptance:    {models.StageInReview},
	models.StageInReview:             {models.StageVerificationAccepted, models.StageVerificationRejected},
	models.StageVerificationAccepted: {models.StagePendingPayment},
	models.StagePendingPayment:       {models.StagePaymentVerified},
	models.StagePaymentVerified:      {models.Stage1},
	models.Stage1:                    {models.Stage2},
	models.Stage2:                    {models.Stage3},
	models.Stage3:                    {models.StageVerificationComplete},
}

var rank = map[models.Stage]int{
	models.StageInitiated:            0,
	models.StagePendingAcceptance:    1,
	models.StageInReview:             2,
	models.StageVerificationAccepted: 3,
	models.StageVerificationRejected: 3,
	models.StagePendingPayment:       4,
	models.StagePaymentVerified:      5,
	models.Stage1:                    6,
	models.Stage2:                    7,
	models.Stage3:                    8,
	models.StageVerificationComplete: 9,
}

// Next returns the stage an admin advance moves to from the given stage.
func Next(from models.Stage) (models.Stage, error) {
	to, ok := advanceTable[from]
	if !ok {
		return "", ErrNotAdvanceable.
			Withf("cannot advance verification from stage %s", from).
			WithDetail("currentStage", from)
	}
	return to, nil
}

// Successors returns the stages directly reachable from s.
func Successors(s models.Stage) []models.Stage {
	return append([]models.Stage(nil), successors[s]...)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.Stage) bool {
	return s == models.StageVerificationComplete || s == models.StageVerificationRejected
}

// IsActive reports whether a verification in stage s blocks a new
// verification of the same parcel.
func IsActive(s models.Stage) bool {
	return s.Valid() && !IsTerminal(s)
}

// ActiveStages lists every non-terminal stage.
func ActiveStages() []models.Stage {
	var out []models.Stage
	for _, s := range models.AllStages {
		if IsActive(s) {
			out = append(out, s)
		}
	}
	return out
}

// Rank orders stages along the pipeline. Both verdict outcomes share a rank.
func Rank(s models.Stage) int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// Machine applies transition guards using a role policy.
type Machine struct {
	policy *authz.Policy
}

// NewMachine creates a Machine backed by policy.
func NewMachine(policy *authz.Policy) *Machine {
	return &Machine{policy: policy}
}

// Policy returns the role policy the machine checks admins against.
func (m *Machine) Policy() *authz.Policy {
	return m.policy
}

func requireStage(v *models.VerificationRequest, want models.Stage) error {
	if v.Stage != want {
		return ErrWrongStage.
			Withf("verification must be in stage %s, it is in %s", want, v.Stage).
			WithDetail("currentStage", v.Stage).
			WithDetail("expectedStage", want)
	}
	return nil
}

func requireOwner(v *models.VerificationRequest, actor authz.Actor) error {
	if v.UserID != actor.UserID {
		return ErrNotOwner
	}
	return nil
}

// CanEdit checks that the owner may still change the request.
func (m *Machine) CanEdit(v *models.VerificationRequest, actor authz.Actor) error {
	if err := requireOwner(v, actor); err != nil {
		return err
	}
	return requireStage(v, models.StageInitiated)
}

// Submit moves an initiated request into the acceptance queue.
func (m *Machine) Submit(v *models.VerificationRequest, actor authz.Actor) (models.Stage, error) {
	if err := m.CanEdit(v, actor); err != nil {
		return "", err
	}
	return models.StagePendingAcceptance, nil
}

// Assign puts an unassigned request in review by the calling admin.
func (m *Machine) Assign(v *models.VerificationRequest, actor authz.Actor) (models.Stage, error) {
	if !m.policy.IsAdmin(actor) {
		return "", ErrNotAdmin
	}
	if err := requireStage(v, models.StagePendingAcceptance); err != nil {
		return "", err
	}
	if v.ReviewerID != nil {
		return "", ErrAlreadyAssigned.WithDetail("reviewerId", *v.ReviewerID)
	}
	return models.StageInReview, nil
}

// Verdict records the assigned reviewer's decision.
func (m *Machine) Verdict(v *models.VerificationRequest, actor authz.Actor, verdict models.Verdict) (models.Stage, error) {
	var to models.Stage
	switch verdict {
	case models.VerdictAccepted:
		to = models.StageVerificationAccepted
	case models.VerdictRejected:
		to = models.StageVerificationRejected
	default:
		return "", ErrInvalidVerdict.WithDetail("verdict", verdict)
	}
	if err := requireStage(v, models.StageInReview); err != nil {
		return "", err
	}
	if v.ReviewerID == nil || *v.ReviewerID != actor.UserID {
		return "", ErrNotReviewer
	}
	return to, nil
}

// Advance moves a paid request one review stage forward. expected is the
// stage the caller believes the request is in; a mismatch means another
// advance won the race and this one is rejected rather than applied twice.
func (m *Machine) Advance(v *models.VerificationRequest, actor authz.Actor, expected models.Stage) (models.Stage, error) {
	if !m.policy.IsAdmin(actor) {
		return "", ErrNotAdmin
	}
	if v.ReviewerID != nil && *v.ReviewerID != actor.UserID {
		return "", ErrNotReviewer
	}
	if expected == "" {
		return "", ErrExpectedRequired
	}
	if v.Stage != expected {
		return "", ErrStageChanged.
			Withf("verification is in stage %s, not %s", v.Stage, expected).
			WithDetail("currentStage", v.Stage).
			WithDetail("expectedStage", expected)
	}
	return Next(v.Stage)
}

// StartPayment moves an accepted request to awaiting payment once its owner
// opens an order.
func (m *Machine) StartPayment(v *models.VerificationRequest, actor authz.Actor) (models.Stage, error) {
	if err := requireOwner(v, actor); err != nil {
		return "", err
	}
	if err := requireStage(v, models.StageVerificationAccepted); err != nil {
		return "", err
	}
	return models.StagePendingPayment, nil
}

// ConfirmPayment moves a request awaiting payment to paid. It is driven by
// the payment provider, so there is no actor.
func (m *Machine) ConfirmPayment(v *models.VerificationRequest) (models.Stage, error) {
	if err := requireStage(v, models.StagePendingPayment); err != nil {
		return "", err
	}
	return models.StagePaymentVerified, nil
}

// CanView reports whether actor may read the request.
func (m *Machine) CanView(v *models.VerificationRequest, actor authz.Actor) error {
	if v.UserID == actor.UserID || m.policy.IsAdmin(actor) {
		return nil
	}
	return ErrNotOwner
}
