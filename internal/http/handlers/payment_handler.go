// README: Payment handlers; walk settlement orders, verification, history and wallet top-ups.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"wander/internal/modules/profile"
	"wander/internal/modules/settlement"
	"wander/internal/types"
)

type Settlements interface {
	CreateOrder(ctx context.Context, sessionID, caller types.ID) (*settlement.OrderResult, error)
	Verify(ctx context.Context, cmd settlement.VerifyCommand) (*settlement.Payment, error)
	MarkFailed(ctx context.Context, orderRef, reason string, caller types.ID) (*settlement.Payment, error)
	Get(ctx context.Context, id, caller types.ID) (*settlement.Payment, error)
	Transactions(ctx context.Context, userID types.ID, page, limit int) (*settlement.TransactionPage, error)
	CreateWalletOrder(ctx context.Context, userID types.ID, amount decimal.Decimal) (*settlement.TopUp, string, error)
	VerifyWalletPayment(ctx context.Context, userID types.ID, orderRef, paymentRef, signature string) (*settlement.TopUp, error)
}

type Wallets interface {
	Wallet(ctx context.Context, userID types.ID) (*profile.Wallet, error)
}

type PaymentHandler struct {
	settlements Settlements
	wallets     Wallets
}

func NewPaymentHandler(settlements Settlements, wallets Wallets) *PaymentHandler {
	return &PaymentHandler{settlements: settlements, wallets: wallets}
}

type createOrderReq struct {
	SessionID string `json:"sessionId"`
}

func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.SessionID) {
		badRequest(c, "sessionId is required")
		return
	}
	res, err := h.settlements.CreateOrder(c.Request.Context(), types.ID(req.SessionID), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	writeOK(c, status, res)
}

type verifyPaymentReq struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
	// Failed reports a checkout the client saw fail; Reason carries the gateway message.
	Failed bool   `json:"failed"`
	Reason string `json:"reason"`
}

func (h *PaymentHandler) Verify(c *gin.Context) {
	var req verifyPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		badRequest(c, "razorpay_order_id is required")
		return
	}
	if req.Failed {
		p, err := h.settlements.MarkFailed(c.Request.Context(), req.OrderID, req.Reason, callerID(c))
		if err != nil {
			writeAppError(c, err)
			return
		}
		writeOK(c, http.StatusOK, p)
		return
	}
	if req.PaymentID == "" || req.Signature == "" {
		badRequest(c, "razorpay_payment_id and razorpay_signature are required")
		return
	}
	p, err := h.settlements.Verify(c.Request.Context(), settlement.VerifyCommand{
		OrderRef:   req.OrderID,
		PaymentRef: req.PaymentID,
		Signature:  req.Signature,
		CallerID:   callerID(c),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.settlements.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

func (h *PaymentHandler) Transactions(c *gin.Context) {
	page, limit := paging(c)
	res, err := h.settlements.Transactions(c.Request.Context(), callerID(c), page, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, res)
}

type walletOrderReq struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *PaymentHandler) CreateWalletOrder(c *gin.Context) {
	var req walletOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}
	topUp, keyID, err := h.settlements.CreateWalletOrder(c.Request.Context(), callerID(c), req.Amount)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, gin.H{"topUp": topUp, "keyId": keyID})
}

func (h *PaymentHandler) VerifyWalletPayment(c *gin.Context) {
	var req verifyPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		badRequest(c, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
		return
	}
	topUp, err := h.settlements.VerifyWalletPayment(c.Request.Context(), callerID(c), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, topUp)
}

func (h *PaymentHandler) Wallet(c *gin.Context) {
	w, err := h.wallets.Wallet(c.Request.Context(), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, w)
}
