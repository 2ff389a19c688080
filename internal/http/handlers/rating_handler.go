// README: Rating and feedback handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/rating"
	"wander/internal/types"
)

type Ratings interface {
	Submit(ctx context.Context, cmd rating.SubmitCommand) (*rating.Rating, error)
	Average(ctx context.Context, userID types.ID) (*rating.Summary, error)
	ListForUser(ctx context.Context, userID types.ID, page, limit int) (*rating.Page, error)
	HasRated(ctx context.Context, sessionID, userID types.ID) (bool, error)
	Report(ctx context.Context, ratingID, caller types.ID, reason string) error
	SubmitFeedback(ctx context.Context, cmd rating.FeedbackCommand) (*rating.Feedback, error)
}

type RatingHandler struct {
	ratings Ratings
}

func NewRatingHandler(ratings Ratings) *RatingHandler {
	return &RatingHandler{ratings: ratings}
}

type submitRatingReq struct {
	SessionID string   `json:"sessionId"`
	Rating    int      `json:"rating"`
	Review    string   `json:"review"`
	Tags      []string `json:"tags"`
}

func (h *RatingHandler) Submit(c *gin.Context) {
	var req submitRatingReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.SessionID) {
		badRequest(c, "sessionId is required")
		return
	}
	r, err := h.ratings.Submit(c.Request.Context(), rating.SubmitCommand{
		SessionID:  types.ID(req.SessionID),
		ReviewerID: callerID(c),
		Value:      req.Rating,
		Text:       req.Review,
		Tags:       req.Tags,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, r)
}

func (h *RatingHandler) ListForUser(c *gin.Context) {
	id, ok := pathID(c, "userId")
	if !ok {
		return
	}
	page, limit := paging(c)
	p, err := h.ratings.ListForUser(c.Request.Context(), id, page, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

func (h *RatingHandler) Average(c *gin.Context) {
	id, ok := pathID(c, "userId")
	if !ok {
		return
	}
	s, err := h.ratings.Average(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, s)
}

func (h *RatingHandler) Check(c *gin.Context) {
	id, ok := pathID(c, "sessionId")
	if !ok {
		return
	}
	rated, err := h.ratings.HasRated(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"sessionId": id, "hasRated": rated})
}

type reportReq struct {
	Reason string `json:"reason"`
}

func (h *RatingHandler) Report(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		badRequest(c, "reason is required")
		return
	}
	if err := h.ratings.Report(c.Request.Context(), id, callerID(c), req.Reason); err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"ratingId": id, "reported": true})
}

type feedbackReq struct {
	SessionID string `json:"sessionId"`
	Rating    int    `json:"rating"`
	Message   string `json:"message"`
}

func (h *RatingHandler) Feedback(c *gin.Context) {
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.SessionID) {
		badRequest(c, "sessionId is required")
		return
	}
	fb, err := h.ratings.SubmitFeedback(c.Request.Context(), rating.FeedbackCommand{
		SessionID: types.ID(req.SessionID),
		UserID:    callerID(c),
		Rating:    req.Rating,
		Message:   req.Message,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, fb)
}
