// README: Message templates for every walk lifecycle notification.
package notification

import (
	"fmt"

	"wander/internal/types"
)

func formatAmount(m types.Money) string {
	if m.Currency == "" || m.Currency == "INR" {
		return fmt.Sprintf("₹%s", m.Decimal().StringFixed(2))
	}
	return fmt.Sprintf("%s %s", m.Currency, m.Decimal().StringFixed(2))
}

func WalkRequestReceived(walkerID, requestID types.ID, distanceKm float64) Notice {
	msg := "A wanderer near you wants a walking companion."
	if distanceKm > 0 {
		msg = fmt.Sprintf("A wanderer %.2f km away wants a walking companion.", distanceKm)
	}
	return Notice{
		UserID:       walkerID,
		Type:         TypeWalkRequest,
		Title:        "New Walk Request",
		Message:      msg,
		Priority:     PriorityHigh,
		Data:         map[string]string{"requestId": string(requestID)},
		RelatedID:    string(requestID),
		RelatedModel: "WalkRequest",
	}
}

func WalkRequestAccepted(wandererID, requestID, walkerID types.ID) Notice {
	return Notice{
		UserID:       wandererID,
		Type:         TypeWalkAccepted,
		Title:        "Walk Request Accepted",
		Message:      "A walker accepted your request and is on the way. Share your OTP when you meet.",
		Priority:     PriorityHigh,
		Data:         map[string]string{"requestId": string(requestID), "walkerId": string(walkerID)},
		RelatedID:    string(requestID),
		RelatedModel: "WalkRequest",
	}
}

func WalkStarted(userID, sessionID types.ID) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypeWalkStarted,
		Title:        "Walk Started",
		Message:      "Your walk has started. Enjoy!",
		Priority:     PriorityMedium,
		Data:         map[string]string{"sessionId": string(sessionID)},
		RelatedID:    string(sessionID),
		RelatedModel: "WalkSession",
	}
}

func PartnerEndRequested(userID, sessionID types.ID) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypeWalkEndRequested,
		Title:        "Partner Wants to End the Walk",
		Message:      "Your walking partner asked to end the walk. End it on your side to finish.",
		Priority:     PriorityHigh,
		Data:         map[string]string{"sessionId": string(sessionID)},
		RelatedID:    string(sessionID),
		RelatedModel: "WalkSession",
	}
}

func PaymentPending(userID, sessionID types.ID, total types.Money) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypePaymentPending,
		Title:        "Walk Ended",
		Message:      fmt.Sprintf("Walk completed. Amount due: %s.", formatAmount(total)),
		Priority:     PriorityHigh,
		Data:         map[string]string{"sessionId": string(sessionID), "amount": total.Decimal().StringFixed(2)},
		RelatedID:    string(sessionID),
		RelatedModel: "WalkSession",
	}
}

func WalkCompleted(userID, sessionID types.ID) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypeWalkCompleted,
		Title:        "Walk Completed",
		Message:      "Thanks for walking with us. Don't forget to rate your partner.",
		Priority:     PriorityMedium,
		Data:         map[string]string{"sessionId": string(sessionID)},
		RelatedID:    string(sessionID),
		RelatedModel: "WalkSession",
	}
}

func WalkCancelled(userID, requestID types.ID, reason string) Notice {
	msg := "The walk was cancelled."
	if reason != "" {
		msg = fmt.Sprintf("The walk was cancelled: %s", reason)
	}
	return Notice{
		UserID:       userID,
		Type:         TypeWalkCancelled,
		Title:        "Walk Cancelled",
		Message:      msg,
		Priority:     PriorityHigh,
		Data:         map[string]string{"requestId": string(requestID)},
		RelatedID:    string(requestID),
		RelatedModel: "WalkRequest",
	}
}

func PaymentSuccess(userID, paymentID types.ID, amount types.Money) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypePaymentSuccess,
		Title:        "Payment Successful",
		Message:      fmt.Sprintf("Payment of %s completed.", formatAmount(amount)),
		Priority:     PriorityMedium,
		Data:         map[string]string{"paymentId": string(paymentID)},
		RelatedID:    string(paymentID),
		RelatedModel: "Payment",
	}
}

func PaymentFailed(userID, paymentID types.ID, reason string) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypePaymentFailed,
		Title:        "Payment Failed",
		Message:      fmt.Sprintf("Your payment could not be completed: %s", reason),
		Priority:     PriorityHigh,
		Data:         map[string]string{"paymentId": string(paymentID)},
		RelatedID:    string(paymentID),
		RelatedModel: "Payment",
	}
}

func EarningAdded(walkerID, paymentID types.ID, earnings types.Money) Notice {
	return Notice{
		UserID:       walkerID,
		Type:         TypeEarningAdded,
		Title:        "Earnings Added",
		Message:      fmt.Sprintf("%s was added to your wallet.", formatAmount(earnings)),
		Priority:     PriorityMedium,
		Data:         map[string]string{"paymentId": string(paymentID)},
		RelatedID:    string(paymentID),
		RelatedModel: "Payment",
	}
}

func WalletCredit(userID types.ID, orderRef string, amount types.Money) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypeWalletCredit,
		Title:        "Wallet Credited",
		Message:      fmt.Sprintf("%s was added to your wallet.", formatAmount(amount)),
		Priority:     PriorityLow,
		Data:         map[string]string{"orderRef": orderRef},
		RelatedID:    orderRef,
		RelatedModel: "WalletTopUp",
	}
}

func NewRating(userID, ratingID types.ID, value int) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypeNewRating,
		Title:        "New Rating",
		Message:      fmt.Sprintf("You received a %d-star rating.", value),
		Priority:     PriorityLow,
		Data:         map[string]string{"ratingId": string(ratingID)},
		RelatedID:    string(ratingID),
		RelatedModel: "Rating",
	}
}

func SOSAlert(userID, sessionID types.ID, where string) Notice {
	return Notice{
		UserID:       userID,
		Type:         TypeSOSAlert,
		Title:        "SOS Alert",
		Message:      fmt.Sprintf("Your walking partner triggered an SOS near %s.", where),
		Priority:     PriorityUrgent,
		Data:         map[string]string{"sessionId": string(sessionID), "location": where},
		RelatedID:    string(sessionID),
		RelatedModel: "WalkSession",
	}
}
