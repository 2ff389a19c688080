package infra

import "testing"

func TestVerifyCheckoutSignature(t *testing.T) {
	const secret = "rzp_test_secret"
	good := checkoutSignature(secret, "order_1", "pay_1")

	tests := []struct {
		name    string
		secret  string
		order   string
		payment string
		sig     string
		want    bool
	}{
		{"valid", secret, "order_1", "pay_1", good, true},
		{"wrong payment", secret, "order_1", "pay_2", good, false},
		{"wrong order", secret, "order_2", "pay_1", good, false},
		{"wrong secret", "other", "order_1", "pay_1", good, false},
		{"empty signature", secret, "order_1", "pay_1", "", false},
		{"no secret", "", "order_1", "pay_1", good, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifyCheckoutSignature(tt.secret, tt.order, tt.payment, tt.sig); got != tt.want {
				t.Fatalf("verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckoutSignatureIsHex(t *testing.T) {
	sig := checkoutSignature("k", "o", "p")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
}
