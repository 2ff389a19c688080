// README: Walk request handlers for create, view, cancel, active and history.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/walkrequest"
	"wander/internal/types"
)

type WalkRequests interface {
	Create(ctx context.Context, cmd walkrequest.CreateCommand) (*walkrequest.Request, error)
	View(ctx context.Context, id, caller types.ID, role types.Role) (*walkrequest.Request, error)
	Cancel(ctx context.Context, cmd walkrequest.CancelCommand) (*walkrequest.Request, error)
	Active(ctx context.Context, userID types.ID) (*walkrequest.Request, error)
	History(ctx context.Context, userID types.ID, page, limit int) (*walkrequest.HistoryPage, error)
}

type WalkHandler struct {
	requests WalkRequests
}

func NewWalkHandler(requests WalkRequests) *WalkHandler {
	return &WalkHandler{requests: requests}
}

type createWalkReq struct {
	Latitude            *float64   `json:"latitude"`
	Longitude           *float64   `json:"longitude"`
	Address             string     `json:"address"`
	DurationMinutes     int        `json:"duration"`
	Pace                string     `json:"pace"`
	ConversationLevel   string     `json:"conversationLevel"`
	Languages           []string   `json:"languages"`
	SpecialRequirements string     `json:"specialRequirements"`
	ScheduledFor        *time.Time `json:"scheduledFor"`
}

func (h *WalkHandler) Create(c *gin.Context) {
	var req createWalkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		badRequest(c, "latitude and longitude are required")
		return
	}
	r, err := h.requests.Create(c.Request.Context(), walkrequest.CreateCommand{
		WandererID:          callerID(c),
		Pickup:              types.Point{Lat: *req.Latitude, Lng: *req.Longitude},
		Address:             req.Address,
		DurationMinutes:     req.DurationMinutes,
		Pace:                walkrequest.Pace(req.Pace),
		ConversationLevel:   walkrequest.ConversationLevel(req.ConversationLevel),
		Languages:           req.Languages,
		SpecialRequirements: req.SpecialRequirements,
		ScheduledFor:        req.ScheduledFor,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, r)
}

func (h *WalkHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.requests.View(c.Request.Context(), id, callerID(c), callerRole(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, r)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *WalkHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	// body is optional
	_ = c.ShouldBindJSON(&req)
	r, err := h.requests.Cancel(c.Request.Context(), walkrequest.CancelCommand{
		RequestID: id,
		ActorID:   callerID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, r)
}

func (h *WalkHandler) Active(c *gin.Context) {
	r, err := h.requests.Active(c.Request.Context(), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"walk": r})
}

func (h *WalkHandler) History(c *gin.Context) {
	page, limit := paging(c)
	p, err := h.requests.History(c.Request.Context(), callerID(c), page, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}
