package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/middleware"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/services"
)

// ParcelHandler handles parcel-related HTTP requests.
type ParcelHandler struct {
	service services.ParcelService
}

// NewParcelHandler creates a new ParcelHandler instance.
func NewParcelHandler(service services.ParcelService) *ParcelHandler {
	return &ParcelHandler{
		service: service,
	}
}

// AtPointRequest represents the query parameters for the at-point endpoint.
type AtPointRequest struct {
	Lat float64 `form:"lat" binding:"required,min=-90,max=90"`
	Lng float64 `form:"lng" binding:"required,min=-180,max=180"`
}

// NearbyRequest represents the query parameters for the nearby endpoint.
type NearbyRequest struct {
	Lat    float64 `form:"lat" binding:"required,min=-90,max=90"`
	Lng    float64 `form:"lng" binding:"required,min=-180,max=180"`
	Radius int     `form:"radius" binding:"omitempty,min=1,max=5000"`
}

// LocationRequest is the address and boundary of a parcel.
type LocationRequest struct {
	Address string         `json:"address" binding:"max=255"`
	City    string         `json:"city" binding:"max=100"`
	State   string         `json:"state" binding:"max=100"`
	Country string         `json:"country" binding:"max=100"`
	Polygon models.Polygon `json:"polygon"`
}

// CreateParcelRequest is the body of POST /parcels and of an inline parcel
// in a new verification.
type CreateParcelRequest struct {
	Name         string          `json:"name" binding:"required,max=200"`
	Description  string          `json:"description" binding:"max=2000"`
	PropertyType string          `json:"propertyType" binding:"omitempty,oneof=LAND RESIDENTIAL COMMERCIAL INDUSTRIAL AGRICULTURAL MIXED_USE"`
	IsPublic     bool            `json:"isPublic"`
	Location     LocationRequest `json:"location"`
}

func (r CreateParcelRequest) input() services.ParcelInput {
	return services.ParcelInput{
		Name:        r.Name,
		Description: r.Description,
		Type:        models.ParcelType(r.PropertyType),
		Address:     r.Location.Address,
		City:        r.Location.City,
		State:       r.Location.State,
		Country:     r.Location.Country,
		Polygon:     r.Location.Polygon,
		IsPublic:    r.IsPublic,
	}
}

// UpdateParcelRequest is the body of PATCH /parcels/:id. Omitted fields are
// left unchanged.
type UpdateParcelRequest struct {
	Name         *string `json:"name" binding:"omitempty,min=1,max=200"`
	Description  *string `json:"description" binding:"omitempty,max=2000"`
	PropertyType *string `json:"propertyType" binding:"omitempty,oneof=LAND RESIDENTIAL COMMERCIAL INDUSTRIAL AGRICULTURAL MIXED_USE"`
	IsPublic     *bool   `json:"isPublic"`
	Location     *struct {
		Address *string         `json:"address" binding:"omitempty,max=255"`
		City    *string         `json:"city" binding:"omitempty,max=100"`
		State   *string         `json:"state" binding:"omitempty,max=100"`
		Country *string         `json:"country" binding:"omitempty,max=100"`
		Polygon *models.Polygon `json:"polygon"`
	} `json:"location"`
}

func (r UpdateParcelRequest) changes() services.ParcelChanges {
	c := services.ParcelChanges{
		Name:        r.Name,
		Description: r.Description,
		IsPublic:    r.IsPublic,
	}
	if r.PropertyType != nil {
		t := models.ParcelType(*r.PropertyType)
		c.Type = &t
	}
	if r.Location != nil {
		c.Address = r.Location.Address
		c.City = r.Location.City
		c.State = r.Location.State
		c.Country = r.Location.Country
		c.Polygon = r.Location.Polygon
	}
	return c
}

// ParcelResponse wraps a single parcel.
type ParcelResponse struct {
	Parcel *models.Parcel `json:"parcel"`
}

// PublicParcel is the view of a verified parcel returned by map lookups.
type PublicParcel struct {
	Geometry     models.Polygon    `json:"geometry"`
	ID           string            `json:"id"`
	PIN          string            `json:"pin,omitempty"`
	Name         string            `json:"name"`
	OwnerName    string            `json:"ownerName,omitempty"`
	Address      string            `json:"address,omitempty"`
	City         string            `json:"city,omitempty"`
	State        string            `json:"state,omitempty"`
	PropertyType models.ParcelType `json:"propertyType"`
	Area         float64           `json:"area"`
}

// PublicParcelResponse wraps the parcel found at a point.
type PublicParcelResponse struct {
	Parcel PublicParcel `json:"parcel"`
}

// NearbyResponse represents the response for the nearby endpoint.
type NearbyResponse struct {
	Parcels []ParcelWithDistance `json:"parcels"`
	Count   int                  `json:"count"`
}

// ParcelWithDistance is a public parcel with its distance from the query point.
type ParcelWithDistance struct {
	PublicParcel
	Distance float64 `json:"distance_meters"`
}

func toPublicParcel(p *models.Parcel) PublicParcel {
	dto := PublicParcel{
		Geometry:     p.Location.Polygon,
		ID:           p.ID,
		Name:         p.Name,
		OwnerName:    p.OwnerName,
		Address:      p.Location.Address,
		City:         p.Location.City,
		State:        p.Location.State,
		PropertyType: p.Type,
		Area:         p.Area,
	}
	if p.HasPIN() {
		dto.PIN = *p.PIN
	}
	return dto
}

// AtPoint handles GET /api/v1/parcels/at-point.
// It retrieves the verified parcel that contains the given lat/lng point.
func (h *ParcelHandler) AtPoint(c *gin.Context) {
	var req AtPointRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Debug("Processing at-point request", map[string]interface{}{
			"lat": req.Lat,
			"lng": req.Lng,
		})
	}

	parcel, err := h.service.GetParcelAtPoint(c.Request.Context(), req.Lat, req.Lng)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, PublicParcelResponse{Parcel: toPublicParcel(parcel)})
}

// Nearby handles GET /api/v1/parcels/nearby.
// It retrieves verified parcels within the radius of the given lat/lng point.
func (h *ParcelHandler) Nearby(c *gin.Context) {
	var req NearbyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	const defaultRadiusMeters = 1000
	if req.Radius == 0 {
		req.Radius = defaultRadiusMeters
	}

	parcels, err := h.service.GetNearbyParcels(c.Request.Context(), req.Lat, req.Lng, req.Radius)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}

	out := make([]ParcelWithDistance, 0, len(parcels))
	for i := range parcels {
		out = append(out, ParcelWithDistance{
			PublicParcel: toPublicParcel(&parcels[i].Parcel),
			Distance:     parcels[i].Distance,
		})
	}

	c.JSON(http.StatusOK, NearbyResponse{Parcels: out, Count: len(out)})
}

// Get handles GET /api/v1/parcels/:id.
func (h *ParcelHandler) Get(c *gin.Context) {
	parcel, err := h.service.GetParcel(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, ParcelResponse{Parcel: parcel})
}

// Create handles POST /api/v1/parcels.
func (h *ParcelHandler) Create(c *gin.Context) {
	var req CreateParcelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	parcel, err := h.service.CreateParcel(c.Request.Context(), middleware.GetActor(c), req.input())
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ParcelResponse{Parcel: parcel})
}

// CreateSubParcel handles POST /api/v1/parcels/:id/sub-parcels.
func (h *ParcelHandler) CreateSubParcel(c *gin.Context) {
	var req CreateParcelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	parcel, err := h.service.CreateSubParcel(c.Request.Context(), middleware.GetActor(c), c.Param("id"), req.input())
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ParcelResponse{Parcel: parcel})
}

// Update handles PATCH /api/v1/parcels/:id.
func (h *ParcelHandler) Update(c *gin.Context) {
	var req UpdateParcelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}
	changes := req.changes()
	if changes.Empty() {
		apierrors.BadRequest(c, "No changes supplied", nil)
		return
	}

	parcel, err := h.service.UpdateParcel(c.Request.Context(), middleware.GetActor(c), c.Param("id"), changes)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, ParcelResponse{Parcel: parcel})
}
