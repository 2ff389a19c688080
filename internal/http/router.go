// README: HTTP router registration.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"wander/internal/http/handlers"
	"wander/internal/http/middleware"
	"wander/internal/infra"
	"wander/internal/types"
)

// WalkService is the walk request surface used by several handler groups.
type WalkService interface {
	handlers.WalkRequests
	handlers.Assignments
	handlers.Handshakes
}

// SettlementService covers payment orders and the wallet.
type SettlementService interface {
	handlers.Settlements
}

// ProfileService covers profiles, wallets and role lookup.
type ProfileService interface {
	handlers.Profiles
	handlers.Wallets
	middleware.RoleLookup
}

type RouterDeps struct {
	Verifier     infra.TokenVerifier
	Walks        WalkService
	Matching     handlers.WalkerFinder
	Sessions     handlers.Sessions
	Settlements  SettlementService
	Profiles     ProfileService
	Ratings      handlers.Ratings
	Inbox        handlers.Inbox
	Verification handlers.PhoneVerifier
	Live         gin.HandlerFunc
	// Ready reports storage health for /health; nil means always ready.
	Ready func(ctx context.Context) error
	Log   logrus.FieldLogger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(d.Log), middleware.Metrics(), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	phone := handlers.NewVerificationHandler(d.Verification)
	api.POST("/auth/phone/send-code", phone.SendCode)
	api.POST("/auth/phone/verify", phone.Verify)

	authed := api.Group("")
	authed.Use(middleware.Auth(d.Verifier), middleware.ResolveRole(d.Profiles))
	wanderers := middleware.RequireRole(types.RoleWanderer)
	walkers := middleware.RequireRole(types.RoleWalker)

	walks := handlers.NewWalkHandler(d.Walks)
	authed.POST("/walk-requests", wanderers, walks.Create)
	authed.GET("/walk-requests/active", walks.Active)
	authed.GET("/walk-requests/history", walks.History)
	authed.GET("/walk-requests/:id", walks.Get)
	authed.POST("/walk-requests/:id/cancel", walks.Cancel)

	matching := handlers.NewMatchingHandler(d.Matching, d.Walks)
	authed.POST("/matching/find-walkers", wanderers, matching.FindWalkers)
	authed.POST("/matching/assign", wanderers, matching.Assign)
	authed.POST("/matching/accept", walkers, matching.Accept)
	authed.POST("/matching/reject", walkers, matching.Reject)
	authed.GET("/matching/pending", walkers, matching.Pending)

	tracking := handlers.NewTrackingHandler(d.Walks, d.Sessions)
	authed.GET("/tracking/otp/:requestId", wanderers, tracking.GetOTP)
	authed.POST("/tracking/verify-otp", walkers, tracking.VerifyOTP)
	authed.POST("/tracking/start", tracking.Start)
	authed.POST("/tracking/update-location", tracking.UpdateLocation)
	authed.POST("/tracking/update-location/:requestId", walkers, tracking.UpdateWalkerLocation)
	authed.POST("/tracking/end", tracking.End)
	authed.GET("/tracking/session/by-request/:requestId", tracking.SessionByRequest)
	authed.GET("/tracking/session/:id", tracking.Session)
	authed.GET("/tracking/partner-location/by-request/:requestId", tracking.PartnerLocationByRequest)
	authed.GET("/tracking/partner-location/:id", tracking.PartnerLocation)
	authed.GET("/tracking/payment-summary/:id", tracking.PaymentSummary)
	authed.POST("/tracking/sos", tracking.SOS)

	payments := handlers.NewPaymentHandler(d.Settlements, d.Profiles)
	authed.POST("/payments/orders", wanderers, payments.CreateOrder)
	authed.POST("/payments/verify", wanderers, payments.Verify)
	authed.GET("/payments/transactions", payments.Transactions)
	authed.POST("/payments/wallet/orders", payments.CreateWalletOrder)
	authed.POST("/payments/wallet/verify", payments.VerifyWalletPayment)
	authed.GET("/payments/wallet", payments.Wallet)
	authed.GET("/payments/:id", payments.Get)

	profiles := handlers.NewProfileHandler(d.Profiles)
	authed.GET("/profile/:userId", profiles.Get)
	authed.PUT("/profile", profiles.Setup)
	authed.PUT("/profile/availability", walkers, profiles.SetAvailability)
	authed.PUT("/profile/location", profiles.UpdateLocation)
	authed.PUT("/profile/device-token", profiles.SetDeviceToken)
	authed.POST("/profile/verification", profiles.SubmitVerification)

	ratings := handlers.NewRatingHandler(d.Ratings)
	authed.POST("/ratings", ratings.Submit)
	authed.GET("/ratings/user/:userId", ratings.ListForUser)
	authed.GET("/ratings/average/:userId", ratings.Average)
	authed.GET("/ratings/check/:sessionId", ratings.Check)
	authed.POST("/ratings/:id/report", ratings.Report)
	authed.POST("/feedback", ratings.Feedback)

	inbox := handlers.NewNotificationHandler(d.Inbox)
	authed.GET("/notifications", inbox.List)
	authed.POST("/notifications", inbox.Create)
	authed.DELETE("/notifications", inbox.DeleteAll)
	authed.GET("/notifications/unread-count", inbox.UnreadCount)
	authed.PUT("/notifications/read-all", inbox.MarkAllRead)
	authed.PUT("/notifications/:id/read", inbox.MarkRead)
	authed.DELETE("/notifications/:id", inbox.Delete)

	if d.Live != nil {
		ws := r.Group("/ws")
		ws.Use(middleware.Auth(d.Verifier))
		ws.GET("/sessions/:id", d.Live)
	}
	return r
}
