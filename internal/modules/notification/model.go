// README: Notification record, delivery states and priorities.
package notification

import (
	"time"

	"wander/internal/types"
)

type Type string

const (
	TypeWalkRequest      Type = "WALK_REQUEST"
	TypeWalkAccepted     Type = "WALK_ACCEPTED"
	TypeWalkStarted      Type = "WALK_STARTED"
	TypeWalkEndRequested Type = "WALK_END_REQUESTED"
	TypePaymentPending   Type = "PAYMENT_PENDING"
	TypeWalkCompleted    Type = "WALK_COMPLETED"
	TypeWalkCancelled    Type = "WALK_CANCELLED"
	TypePaymentSuccess   Type = "PAYMENT_SUCCESS"
	TypePaymentFailed    Type = "PAYMENT_FAILED"
	TypeWalletCredit     Type = "WALLET_CREDIT"
	TypeEarningAdded     Type = "EARNING_ADDED"
	TypeNewRating        Type = "NEW_RATING"
	TypeSOSAlert         Type = "SOS_ALERT"
	TypeSystem           Type = "SYSTEM"
	TypeReminder         Type = "REMINDER"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Notice is what a domain operation asks to deliver.
type Notice struct {
	UserID       types.ID
	Type         Type
	Title        string
	Message      string
	Priority     Priority
	Data         map[string]string
	RelatedID    string
	RelatedModel string
}

type Notification struct {
	ID             types.ID          `json:"id"`
	UserID         types.ID          `json:"userId"`
	Type           Type              `json:"type"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Priority       Priority          `json:"priority"`
	Data           map[string]string `json:"data,omitempty"`
	RelatedID      string            `json:"relatedId,omitempty"`
	RelatedModel   string            `json:"relatedModel,omitempty"`
	IsRead         bool              `json:"isRead"`
	ReadAt         *time.Time        `json:"readAt,omitempty"`
	DeliveryStatus DeliveryStatus    `json:"deliveryStatus"`
	FailureReason  string            `json:"failureReason,omitempty"`
	SentAt         *time.Time        `json:"sentAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
}

// Task is the unit handed to delivery workers.
type Task struct {
	NotificationID types.ID          `json:"notification_id"`
	UserID         types.ID          `json:"user_id"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Priority       Priority          `json:"priority"`
	Data           map[string]string `json:"data,omitempty"`
}
