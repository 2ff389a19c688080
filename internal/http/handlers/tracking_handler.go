// README: Tracking handlers; OTP handshake, session lifecycle, live location and SOS.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/location"
	"wander/internal/modules/session"
	"wander/internal/modules/walkrequest"
	"wander/internal/types"
)

type Handshakes interface {
	GetOTP(ctx context.Context, requestID, caller types.ID) (*walkrequest.OTP, error)
	VerifyOTP(ctx context.Context, cmd walkrequest.VerifyOTPCommand) (*walkrequest.Request, error)
	UpdateWalkerLocation(ctx context.Context, requestID, walkerID types.ID, p types.Point) error
	PartnerLocation(ctx context.Context, requestID, caller types.ID) (*walkrequest.PartnerLocation, error)
}

type Sessions interface {
	Start(ctx context.Context, cmd session.StartCommand) (*session.Session, error)
	UpdateLocation(ctx context.Context, sessionID, caller types.ID, sample location.Sample) (*session.Session, error)
	End(ctx context.Context, cmd session.EndCommand) (*session.EndResult, error)
	TriggerSOS(ctx context.Context, cmd session.SOSCommand) (*session.Session, error)
	PaymentSummary(ctx context.Context, sessionID, caller types.ID) (*session.PaymentSummary, error)
	Get(ctx context.Context, id, caller types.ID) (*session.Session, error)
	GetByRequest(ctx context.Context, requestID, caller types.ID) (*session.Session, error)
	PartnerLocation(ctx context.Context, sessionID, caller types.ID) (*session.PartnerLocation, error)
	PartnerLocationByRequest(ctx context.Context, requestID, caller types.ID) (*session.PartnerLocation, error)
}

type TrackingHandler struct {
	requests Handshakes
	sessions Sessions
}

func NewTrackingHandler(requests Handshakes, sessions Sessions) *TrackingHandler {
	return &TrackingHandler{requests: requests, sessions: sessions}
}

func (h *TrackingHandler) GetOTP(c *gin.Context) {
	id, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	otp, err := h.requests.GetOTP(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, otp)
}

type verifyOTPReq struct {
	RequestID string `json:"requestId"`
	OTP       string `json:"otp"`
}

func (h *TrackingHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RequestID) || req.OTP == "" {
		badRequest(c, "requestId and otp are required")
		return
	}
	r, err := h.requests.VerifyOTP(c.Request.Context(), walkrequest.VerifyOTPCommand{
		RequestID: types.ID(req.RequestID),
		WalkerID:  callerID(c),
		Code:      req.OTP,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, r)
}

type startReq struct {
	RequestID       string           `json:"requestId"`
	WandererID      string           `json:"wandererId"`
	WalkerID        string           `json:"walkerId"`
	InitialLocation *location.Sample `json:"initialLocation"`
}

func (h *TrackingHandler) Start(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RequestID) || !isValidID(req.WandererID) || !isValidID(req.WalkerID) {
		badRequest(c, "requestId, wandererId and walkerId are required")
		return
	}
	ses, err := h.sessions.Start(c.Request.Context(), session.StartCommand{
		RequestID:  types.ID(req.RequestID),
		WandererID: types.ID(req.WandererID),
		WalkerID:   types.ID(req.WalkerID),
		CallerID:   callerID(c),
		Initial:    req.InitialLocation,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, ses)
}

type updateLocationReq struct {
	SessionID string `json:"sessionId"`
	location.Sample
}

func (h *TrackingHandler) UpdateLocation(c *gin.Context) {
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.SessionID) {
		badRequest(c, "sessionId is required")
		return
	}
	ses, err := h.sessions.UpdateLocation(c.Request.Context(), types.ID(req.SessionID), callerID(c), req.Sample)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{
		"sessionId":       ses.ID,
		"totalDistanceKm": ses.TotalDistanceKm,
		"durationMinutes": ses.DurationMinutes,
		"points":          len(ses.Route),
	})
}

type pointReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p pointReq) point() (types.Point, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *p.Latitude, Lng: *p.Longitude}, true
}

// UpdateWalkerLocation records the walker's position while heading to the pickup.
func (h *TrackingHandler) UpdateWalkerLocation(c *gin.Context) {
	id, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	var req pointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, ok := req.point()
	if !ok {
		badRequest(c, "latitude and longitude are required")
		return
	}
	if err := h.requests.UpdateWalkerLocation(c.Request.Context(), id, callerID(c), p); err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"requestId": id, "location": p})
}

type endReq struct {
	SessionID   string           `json:"sessionId"`
	EndLocation *location.Sample `json:"endLocation"`
}

func (h *TrackingHandler) End(c *gin.Context) {
	var req endReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.SessionID) {
		badRequest(c, "sessionId is required")
		return
	}
	res, err := h.sessions.End(c.Request.Context(), session.EndCommand{
		SessionID: types.ID(req.SessionID),
		CallerID:  callerID(c),
		Location:  req.EndLocation,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	status := http.StatusOK
	if !res.Finalized {
		status = http.StatusAccepted
	}
	writeOK(c, status, res)
}

func (h *TrackingHandler) Session(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ses, err := h.sessions.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, ses)
}

func (h *TrackingHandler) SessionByRequest(c *gin.Context) {
	id, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	ses, err := h.sessions.GetByRequest(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, ses)
}

func (h *TrackingHandler) PartnerLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	loc, err := h.sessions.PartnerLocation(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, loc)
}

func (h *TrackingHandler) PartnerLocationByRequest(c *gin.Context) {
	id, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	loc, err := h.sessions.PartnerLocationByRequest(c.Request.Context(), id, callerID(c))
	if errors.Is(err, session.ErrNotFound) {
		// No session yet: the walker is still on the way to the pickup point.
		pre, err := h.requests.PartnerLocation(c.Request.Context(), id, callerID(c))
		if err != nil {
			writeAppError(c, err)
			return
		}
		writeOK(c, http.StatusOK, pre)
		return
	}
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, loc)
}

func (h *TrackingHandler) PaymentSummary(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sum, err := h.sessions.PaymentSummary(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, sum)
}

type sosReq struct {
	SessionID string `json:"sessionId"`
	pointReq
	Reason string `json:"reason"`
}

func (h *TrackingHandler) SOS(c *gin.Context) {
	var req sosReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.SessionID) {
		badRequest(c, "sessionId is required")
		return
	}
	var at *types.Point
	if p, ok := req.point(); ok {
		at = &p
	}
	ses, err := h.sessions.TriggerSOS(c.Request.Context(), session.SOSCommand{
		SessionID: types.ID(req.SessionID),
		CallerID:  callerID(c),
		Location:  at,
		Reason:    req.Reason,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"sessionId": ses.ID, "sosTriggered": ses.SOSTriggered, "sosAt": ses.SOSAt})
}
