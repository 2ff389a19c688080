// README: Matching handlers; nearby search, pre-assignment and the walker's accept/reject inbox.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/matching"
	"wander/internal/modules/walkrequest"
	"wander/internal/types"
)

type WalkerFinder interface {
	FindWalkers(ctx context.Context, cmd matching.FindCommand) (*matching.FindResult, error)
}

type Assignments interface {
	Assign(ctx context.Context, cmd walkrequest.AssignCommand) (*walkrequest.Request, error)
	Accept(ctx context.Context, cmd walkrequest.AcceptCommand) (*walkrequest.Request, error)
	Reject(ctx context.Context, cmd walkrequest.RejectCommand) error
	PendingForWalker(ctx context.Context, walkerID types.ID) ([]*walkrequest.Request, error)
}

type MatchingHandler struct {
	finder   WalkerFinder
	requests Assignments
}

func NewMatchingHandler(finder WalkerFinder, requests Assignments) *MatchingHandler {
	return &MatchingHandler{finder: finder, requests: requests}
}

type findWalkersReq struct {
	RequestID string  `json:"requestId"`
	RadiusKm  float64 `json:"radius"`
}

func (h *MatchingHandler) FindWalkers(c *gin.Context) {
	var req findWalkersReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RequestID) {
		badRequest(c, "requestId is required")
		return
	}
	res, err := h.finder.FindWalkers(c.Request.Context(), matching.FindCommand{
		RequestID: types.ID(req.RequestID),
		CallerID:  callerID(c),
		RadiusKm:  req.RadiusKm,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, res)
}

type assignReq struct {
	RequestID string `json:"requestId"`
	WalkerID  string `json:"walkerId"`
}

func (h *MatchingHandler) Assign(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RequestID) || !isValidID(req.WalkerID) {
		badRequest(c, "requestId and walkerId are required")
		return
	}
	r, err := h.requests.Assign(c.Request.Context(), walkrequest.AssignCommand{
		RequestID:  types.ID(req.RequestID),
		WandererID: callerID(c),
		WalkerID:   types.ID(req.WalkerID),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, r)
}

type requestRef struct {
	RequestID string `json:"requestId"`
}

func (h *MatchingHandler) Accept(c *gin.Context) {
	var req requestRef
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RequestID) {
		badRequest(c, "requestId is required")
		return
	}
	r, err := h.requests.Accept(c.Request.Context(), walkrequest.AcceptCommand{
		RequestID: types.ID(req.RequestID),
		WalkerID:  callerID(c),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, r)
}

func (h *MatchingHandler) Reject(c *gin.Context) {
	var req requestRef
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RequestID) {
		badRequest(c, "requestId is required")
		return
	}
	err := h.requests.Reject(c.Request.Context(), walkrequest.RejectCommand{
		RequestID: types.ID(req.RequestID),
		WalkerID:  callerID(c),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"requestId": req.RequestID, "rejected": true})
}

func (h *MatchingHandler) Pending(c *gin.Context) {
	items, err := h.requests.PendingForWalker(c.Request.Context(), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if items == nil {
		items = []*walkrequest.Request{}
	}
	writeOK(c, http.StatusOK, gin.H{"requests": items})
}
