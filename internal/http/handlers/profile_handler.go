// README: Profile handlers; setup, availability, position, push token and identity documents.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/profile"
	"wander/internal/types"
)

type Profiles interface {
	Get(ctx context.Context, userID types.ID) (*profile.Profile, error)
	Setup(ctx context.Context, cmd profile.SetupCommand) (*profile.Profile, error)
	SetAvailability(ctx context.Context, walkerID types.ID, available bool, at *types.Point) (*profile.Profile, error)
	UpdateLocation(ctx context.Context, userID types.ID, at types.Point) error
	SetDeviceToken(ctx context.Context, userID types.ID, token string) error
	SubmitVerification(ctx context.Context, cmd profile.VerificationCommand) (*profile.Verification, error)
}

type ProfileHandler struct {
	profiles Profiles
}

func NewProfileHandler(profiles Profiles) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "userId")
	if !ok {
		return
	}
	p, err := h.profiles.Get(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

type setupReq struct {
	Role      string   `json:"role"`
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Bio       string   `json:"bio"`
	Languages []string `json:"languages"`
}

func (h *ProfileHandler) Setup(c *gin.Context) {
	var req setupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, err := h.profiles.Setup(c.Request.Context(), profile.SetupCommand{
		UserID:    callerID(c),
		Role:      types.Role(req.Role),
		Name:      req.Name,
		Phone:     req.Phone,
		Bio:       req.Bio,
		Languages: req.Languages,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

type availabilityReq struct {
	IsAvailable *bool `json:"isAvailable"`
	pointReq
}

func (h *ProfileHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.IsAvailable == nil {
		badRequest(c, "isAvailable is required")
		return
	}
	var at *types.Point
	if p, ok := req.point(); ok {
		at = &p
	}
	p, err := h.profiles.SetAvailability(c.Request.Context(), callerID(c), *req.IsAvailable, at)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

func (h *ProfileHandler) UpdateLocation(c *gin.Context) {
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
	if err := h.profiles.UpdateLocation(c.Request.Context(), callerID(c), p); err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"location": p})
}

type deviceTokenReq struct {
	Token string `json:"fcmToken"`
}

func (h *ProfileHandler) SetDeviceToken(c *gin.Context) {
	var req deviceTokenReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		badRequest(c, "fcmToken is required")
		return
	}
	if err := h.profiles.SetDeviceToken(c.Request.Context(), callerID(c), req.Token); err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"updated": true})
}

type verificationReq struct {
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	DocumentImage  string `json:"documentImage"`
}

func (h *ProfileHandler) SubmitVerification(c *gin.Context) {
	var req verificationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	v, err := h.profiles.SubmitVerification(c.Request.Context(), profile.VerificationCommand{
		UserID:         callerID(c),
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
		DocumentImage:  req.DocumentImage,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"verification": v})
}
