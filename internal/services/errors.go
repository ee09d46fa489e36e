package services

import (
	"strings"

	"github.com/stwalsh4118/verrify/internal/apperr"
	"github.com/stwalsh4118/verrify/internal/metrics"
)

// Service-level errors
var (
	ErrInvalidCoordinates = apperr.Validation("INVALID_COORDINATES", "invalid coordinates")
	ErrInvalidRadius      = apperr.Validation("INVALID_RADIUS", "radius must be between 1 and 5000 meters")
	ErrMissingField       = apperr.Validation("MISSING_FIELD", "a required field is missing")
	ErrInvalidParcelType  = apperr.Validation("INVALID_PROPERTY_TYPE", "unknown property type")
	ErrInvalidStage       = apperr.Validation("INVALID_STAGE_FILTER", "unknown verification stage")

	ErrParcelNotFound       = apperr.NotFound("PARCEL_NOT_FOUND", "parcel not found")
	ErrVerificationNotFound = apperr.NotFound("VERIFICATION_NOT_FOUND", "verification request not found")
	ErrOrderNotFound        = apperr.NotFound("ORDER_NOT_FOUND", "order not found")
	ErrUserNotFound         = apperr.NotFound("USER_NOT_FOUND", "user not found")

	ErrNotParcelOwner      = apperr.Authorization("NOT_PARCEL_OWNER", "only the parcel owner may perform this action")
	ErrAdminRequired       = apperr.Authorization("ADMIN_REQUIRED", "only admins may perform this action")
	ErrActiveVerification  = apperr.Conflict("ACTIVE_VERIFICATION_EXISTS", "an active verification request already exists for this parcel")
	ErrParcelNotEditable   = apperr.Conflict("PARCEL_NOT_EDITABLE", "parcel can only be changed while unverified or rejected")
	ErrParentNotVerified   = apperr.Conflict("PARENT_NOT_VERIFIED", "sub-parcels can only be created under a verified parcel")
	ErrMissingPayerEmail   = apperr.Validation("PAYER_EMAIL_REQUIRED", "an email address is required to pay")
	ErrTransactionConflict = apperr.Conflict("TRANSACTION_REFERENCE_EXISTS", "payment reference is already recorded")
)

func missing(field string) error {
	return ErrMissingField.Withf("%s is required", field).WithDetail("field", field)
}

// recordGeometryRejection counts validator rejections by error code. Other
// errors pass through uncounted.
func recordGeometryRejection(m *metrics.Metrics, err error) {
	e, ok := apperr.As(err)
	if !ok {
		return
	}
	switch e.Kind {
	case apperr.KindValidation, apperr.KindConflict:
		m.IncGeometryRejection(strings.ToLower(e.Code))
	}
}
