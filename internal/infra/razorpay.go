// README: Razorpay order creation and checkout signature verification.
package infra

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"wander/internal/modules/settlement"
)

type RazorpayGateway struct {
	client *razorpay.Client
	secret string
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret), secret: keySecret}
}

// CreateOrder returns the gateway order id. The SDK call is not context aware,
// so ctx only bounds how long the caller waits.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req settlement.OrderRequest) (string, error) {
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := g.client.Order.Create(data, nil)
		if err != nil {
			ch <- result{err: err}
			return
		}
		id, _ := body["id"].(string)
		if id == "" {
			ch <- result{err: errors.New("order id missing from response")}
			return
		}
		ch <- result{id: id}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("razorpay create order: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("razorpay create order: %w", r.err)
		}
		return r.id, nil
	}
}

func (g *RazorpayGateway) VerifySignature(orderRef, paymentRef, signature string) bool {
	return verifyCheckoutSignature(g.secret, orderRef, paymentRef, signature)
}

func checkoutSignature(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyCheckoutSignature(secret, orderRef, paymentRef, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := checkoutSignature(secret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}
