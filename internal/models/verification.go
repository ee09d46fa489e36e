package models

import (
	"time"
)

// Stage is the wire-visible position of a verification request in the pipeline.
type Stage string

const (
	StageInitiated            Stage = "INITIATED"
	StagePendingAcceptance    Stage = "PENDING_ACCEPTANCE"
	StageInReview             Stage = "IN_REVIEW"
	StageVerificationAccepted Stage = "VERIFICATION_ACCEPTED"
	StageVerificationRejected Stage = "VERIFICATION_REJECTED"
	StagePendingPayment       Stage = "PENDING_PAYMENT"
	StagePaymentVerified      Stage = "PAYMENT_VERIFIED"
	Stage1                    Stage = "STAGE_1"
	Stage2                    Stage = "STAGE_2"
	Stage3                    Stage = "STAGE_3"
	StageVerificationComplete Stage = "VERIFICATION_COMPLETE"
)

// AllStages lists every stage in forward pipeline order, with the rejected
// exit placed beside the accepted branch.
var AllStages = []Stage{
	StageInitiated,
	StagePendingAcceptance,
	StageInReview,
	StageVerificationAccepted,
	StageVerificationRejected,
	StagePendingPayment,
	StagePaymentVerified,
	Stage1,
	Stage2,
	Stage3,
	StageVerificationComplete,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range AllStages {
		if s == known {
			return true
		}
	}
	return false
}

// Verdict is a reviewer's decision on a verification in review.
type Verdict string

const (
	VerdictAccepted Verdict = "ACCEPTED"
	VerdictRejected Verdict = "REJECTED"
)

// VerificationRequest tracks one ownership verification of one parcel.
// ReviewerID is a lookup reference to the assigned admin, never an owning link.
type VerificationRequest struct {
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CaseID            *string    `json:"caseId,omitempty"`
	ReviewerID        *string    `json:"reviewerId,omitempty"`
	ReviewedAt        *time.Time `json:"reviewedAt,omitempty"`
	DeletedAt         *time.Time `json:"-"`
	Parcel            *Parcel    `json:"property,omitempty"`
	ID                string     `json:"id"`
	Stage             Stage      `json:"stage"`
	ParcelID          string     `json:"propertyId"`
	UserID            string     `json:"userId"`
	AdminComments     string     `json:"adminComments,omitempty"`
	VerificationFiles []string   `json:"verificationFiles"`
	AdminStageFiles   []string   `json:"adminStageFiles"`
}

// VerificationFilter narrows verification listings.
type VerificationFilter struct {
	Stage    Stage
	ParcelID string
	UserID   string
	Search   string // case-insensitive case id substring
	Page     Page
}
