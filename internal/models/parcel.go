package models

import (
	"time"
)

// ParcelStatus is the verification status of a parcel.
type ParcelStatus string

const (
	ParcelNotVerified ParcelStatus = "NOT_VERIFIED"
	ParcelPending     ParcelStatus = "PENDING"
	ParcelInReview    ParcelStatus = "IN_REVIEW"
	ParcelVerified    ParcelStatus = "VERIFIED"
	ParcelRejected    ParcelStatus = "REJECTED"
)

// Valid reports whether s is a known parcel status.
func (s ParcelStatus) Valid() bool {
	switch s {
	case ParcelNotVerified, ParcelPending, ParcelInReview, ParcelVerified, ParcelRejected:
		return true
	}
	return false
}

// Editable reports whether a parcel in this status may have its boundary or
// details changed by its owner.
func (s ParcelStatus) Editable() bool {
	return s == ParcelNotVerified || s == ParcelRejected
}

// ActiveClaimStatuses are the statuses whose polygons take part in overlap checks.
var ActiveClaimStatuses = []ParcelStatus{ParcelVerified, ParcelPending}

// ParcelType classifies the land use of a parcel.
type ParcelType string

const (
	ParcelTypeLand         ParcelType = "LAND"
	ParcelTypeResidential  ParcelType = "RESIDENTIAL"
	ParcelTypeCommercial   ParcelType = "COMMERCIAL"
	ParcelTypeIndustrial   ParcelType = "INDUSTRIAL"
	ParcelTypeAgricultural ParcelType = "AGRICULTURAL"
	ParcelTypeMixedUse     ParcelType = "MIXED_USE"
)

// Valid reports whether t is a known parcel type.
func (t ParcelType) Valid() bool {
	switch t {
	case ParcelTypeLand, ParcelTypeResidential, ParcelTypeCommercial,
		ParcelTypeIndustrial, ParcelTypeAgricultural, ParcelTypeMixedUse:
		return true
	}
	return false
}

// Location is the address and boundary owned 1:1 by a parcel.
type Location struct {
	Address string  `json:"address,omitempty"`
	City    string  `json:"city,omitempty"`
	State   string  `json:"state,omitempty"`
	Country string  `json:"country,omitempty"`
	Polygon Polygon `json:"polygon"`
}

// Parcel is a land/property record with a boundary polygon and verification status.
// ParentID and OwnerID are lookup references only; parcels and users have
// independent lifecycles.
type Parcel struct {
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	PIN         *string      `json:"pin,omitempty"`
	ParentID    *string      `json:"parentId,omitempty"`
	Location    Location     `json:"location"`
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        ParcelType   `json:"propertyType"`
	Status      ParcelStatus `json:"verificationStatus"`
	OwnerID     string       `json:"ownerId"`
	OwnerName   string       `json:"ownerName,omitempty"`
	Area        float64      `json:"area"` // square metres, derived from Location.Polygon
	IsSubParcel bool         `json:"isSubParcel"`
	IsPublic    bool         `json:"isPublic"`
}

// HasPIN reports whether a PIN has been assigned.
func (p *Parcel) HasPIN() bool {
	return p.PIN != nil && *p.PIN != ""
}

// ParcelWithDistance represents a parcel with its distance from a reference point.
type ParcelWithDistance struct {
	Parcel   Parcel
	Distance float64 // Distance in meters
}
