package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stwalsh4118/verrify/internal/authz"
	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/middleware"
)

// RouterDeps is everything the HTTP surface is built from.
type RouterDeps struct {
	Log           *logger.Logger
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer // nil disables /metrics
	CORSOrigins   []string
	Verifier      *middleware.TokenVerifier
	Policy        *authz.Policy
	Health        *HealthHandler
	Parcels       *ParcelHandler
	Verifications *VerificationHandler
	Payments      *PaymentHandler
}

// NewRouter registers middleware and every route.
func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()

	// Order: RequestID -> Logger -> Recovery -> Metrics -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(d.Log))
	router.Use(middleware.Recovery(d.Log))
	router.Use(middleware.Metrics(d.Metrics))
	router.Use(middleware.CORS(d.CORSOrigins))
	router.NoRoute(apierrors.NotFound)

	router.GET("/health", d.Health.Health)
	router.GET("/health/ready", d.Health.Ready)
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/info", d.Health.Info)

	// Public map lookups and the provider webhook.
	v1.GET("/parcels/at-point", d.Parcels.AtPoint)
	v1.GET("/parcels/nearby", d.Parcels.Nearby)
	v1.POST("/payments/webhook", d.Payments.Webhook)

	authed := v1.Group("", middleware.RequireAuth(d.Verifier, d.Log))
	{
		parcels := authed.Group("/parcels")
		parcels.POST("", d.Parcels.Create)
		parcels.GET("/:id", d.Parcels.Get)
		parcels.PATCH("/:id", d.Parcels.Update)
		parcels.POST("/:id/sub-parcels", d.Parcels.CreateSubParcel)

		verifications := authed.Group("/verifications")
		verifications.POST("", d.Verifications.Initiate)
		verifications.GET("", d.Verifications.ListMine)
		verifications.GET("/:id", d.Verifications.Get)
		verifications.PATCH("/:id", d.Verifications.Update)
		verifications.POST("/:id/submit", d.Verifications.Submit)

		payments := authed.Group("/payments")
		payments.POST("/verifications/:id/initialize", d.Payments.Initialize)
		payments.GET("/orders", d.Payments.ListMyOrders)
		payments.GET("/transactions", d.Payments.ListMyTransactions)

		admin := authed.Group("/admin", middleware.RequireRole(d.Policy, authz.RoleAdmin))
		admin.GET("/verifications", d.Verifications.ListAdmin)
		admin.POST("/verifications/:id/assign", d.Verifications.Assign)
		admin.POST("/verifications/:id/verdict", d.Verifications.Verdict)
		admin.POST("/verifications/:id/advance", d.Verifications.Advance)
		admin.GET("/payments/orders", d.Payments.ListOrders)
		admin.GET("/payments/transactions", d.Payments.ListTransactions)
	}

	return router
}
