// README: Public phone verification handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/verification"
)

type PhoneVerifier interface {
	SendCode(ctx context.Context, phone string) (*verification.SendResult, error)
	VerifyCode(ctx context.Context, phone, code string) error
}

type VerificationHandler struct {
	verifier PhoneVerifier
}

func NewVerificationHandler(verifier PhoneVerifier) *VerificationHandler {
	return &VerificationHandler{verifier: verifier}
}

type sendCodeReq struct {
	Phone string `json:"phone"`
}

func (h *VerificationHandler) SendCode(c *gin.Context) {
	var req sendCodeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		badRequest(c, "phone is required")
		return
	}
	res, err := h.verifier.SendCode(c.Request.Context(), req.Phone)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, res)
}

type verifyCodeReq struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *VerificationHandler) Verify(c *gin.Context) {
	var req verifyCodeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" || req.Code == "" {
		badRequest(c, "phone and code are required")
		return
	}
	if err := h.verifier.VerifyCode(c.Request.Context(), req.Phone, req.Code); err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"verified": true})
}
