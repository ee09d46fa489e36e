package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/middleware"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/services"
)

// VerificationHandler serves the verification pipeline for owners and admins.
type VerificationHandler struct {
	service services.VerificationService
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(service services.VerificationService) *VerificationHandler {
	return &VerificationHandler{service: service}
}

// InitiateRequest starts a verification for an existing parcel or for a new
// one described inline.
type InitiateRequest struct {
	PropertyID        string               `json:"propertyId"`
	Property          *CreateParcelRequest `json:"property"`
	VerificationFiles []string             `json:"verificationFiles" binding:"omitempty,max=20,dive,url"`
}

// UpdateVerificationRequest edits an initiated verification.
type UpdateVerificationRequest struct {
	PropertyID        *string             `json:"propertyId"`
	Property          UpdateParcelRequest `json:"property"`
	VerificationFiles []string            `json:"verificationFiles" binding:"omitempty,max=20,dive,url"`
}

// VerdictRequest is an admin's decision on a request in review.
type VerdictRequest struct {
	Verdict  string `json:"verdict" binding:"required,oneof=ACCEPTED REJECTED"`
	Comments string `json:"comments" binding:"max=2000"`
}

// AdvanceRequest moves a paid request one stage forward. ExpectedStage is
// the stage the admin saw; a concurrent change makes the request fail.
type AdvanceRequest struct {
	ExpectedStage string   `json:"expectedStage" binding:"required"`
	Files         []string `json:"files" binding:"omitempty,max=20,dive,url"`
	Comments      string   `json:"comments" binding:"max=2000"`
}

// PageQuery is the common pagination query.
type PageQuery struct {
	Page  int `form:"page" binding:"omitempty,min=1"`
	Limit int `form:"limit" binding:"omitempty,min=1,max=50"`
}

func (q PageQuery) page() models.Page {
	return models.Page{Number: q.Page, Limit: q.Limit}
}

// AdminVerificationQuery filters the admin verification listing.
type AdminVerificationQuery struct {
	PageQuery
	Stage      string `form:"stage"`
	PropertyID string `form:"propertyId"`
	UserID     string `form:"userId"`
	Search     string `form:"search" binding:"max=50"`
}

// VerificationResponse wraps a single verification.
type VerificationResponse struct {
	Verification *models.VerificationRequest `json:"verification"`
}

// contact builds the caller's profile from the token claims so the request
// owner can be notified.
func contact(c *gin.Context) models.User {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return models.User{}
	}
	return models.User{
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Role:      claims.Role,
	}
}

// Initiate handles POST /api/v1/verifications.
func (h *VerificationHandler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}
	if (req.PropertyID == "") == (req.Property == nil) {
		apierrors.BadRequest(c, "Exactly one of propertyId or property is required", nil)
		return
	}

	in := services.InitiateInput{
		ParcelID:          req.PropertyID,
		VerificationFiles: req.VerificationFiles,
		Contact:           contact(c),
	}
	if req.Property != nil {
		in.Parcel = req.Property.input()
	}

	v, err := h.service.Initiate(c.Request.Context(), middleware.GetActor(c), in)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, VerificationResponse{Verification: v})
}

// Update handles PATCH /api/v1/verifications/:id.
func (h *VerificationHandler) Update(c *gin.Context) {
	var req UpdateVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	v, err := h.service.Update(c.Request.Context(), middleware.GetActor(c), c.Param("id"), services.UpdateVerificationInput{
		ParcelID:          req.PropertyID,
		Parcel:            req.Property.changes(),
		VerificationFiles: req.VerificationFiles,
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerificationResponse{Verification: v})
}

// Submit handles POST /api/v1/verifications/:id/submit.
func (h *VerificationHandler) Submit(c *gin.Context) {
	v, err := h.service.Submit(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerificationResponse{Verification: v})
}

// Get handles GET /api/v1/verifications/:id.
func (h *VerificationHandler) Get(c *gin.Context) {
	v, err := h.service.Get(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerificationResponse{Verification: v})
}

// ListMine handles GET /api/v1/verifications.
func (h *VerificationHandler) ListMine(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindError(c, err)
		return
	}

	result, err := h.service.ListMine(c.Request.Context(), middleware.GetActor(c), q.page())
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListAdmin handles GET /api/v1/admin/verifications.
func (h *VerificationHandler) ListAdmin(c *gin.Context) {
	var q AdminVerificationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindError(c, err)
		return
	}

	result, err := h.service.ListAdmin(c.Request.Context(), middleware.GetActor(c), models.VerificationFilter{
		Stage:    models.Stage(q.Stage),
		ParcelID: q.PropertyID,
		UserID:   q.UserID,
		Search:   q.Search,
		Page:     q.page(),
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Assign handles POST /api/v1/admin/verifications/:id/assign.
func (h *VerificationHandler) Assign(c *gin.Context) {
	v, err := h.service.Assign(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerificationResponse{Verification: v})
}

// Verdict handles POST /api/v1/admin/verifications/:id/verdict.
func (h *VerificationHandler) Verdict(c *gin.Context) {
	var req VerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	v, err := h.service.Verdict(c.Request.Context(), middleware.GetActor(c), c.Param("id"), services.VerdictInput{
		Verdict:  models.Verdict(req.Verdict),
		Comments: req.Comments,
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerificationResponse{Verification: v})
}

// Advance handles POST /api/v1/admin/verifications/:id/advance.
func (h *VerificationHandler) Advance(c *gin.Context) {
	var req AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindError(c, err)
		return
	}

	v, err := h.service.Advance(c.Request.Context(), middleware.GetActor(c), c.Param("id"), services.AdvanceInput{
		Expected: models.Stage(req.ExpectedStage),
		Files:    req.Files,
		Comments: req.Comments,
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerificationResponse{Verification: v})
}
