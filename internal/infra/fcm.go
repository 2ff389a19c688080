// README: FCM push delivery for notification workers; device tokens come from profiles.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"wander/internal/modules/notification"
	"wander/internal/types"
)

// DeviceTokens resolves a user's push token.
type DeviceTokens interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

type FCMPusher struct {
	client *messaging.Client
	tokens DeviceTokens
}

func NewFCMPusher(ctx context.Context, app *firebase.App, tokens DeviceTokens) (*FCMPusher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &FCMPusher{client: client, tokens: tokens}, nil
}

func (p *FCMPusher) Push(ctx context.Context, userID types.ID, title, message string, data map[string]string) error {
	token, err := p.tokens.DeviceToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup device token: %w", err)
	}
	if token == "" {
		return notification.ErrNoDevice
	}
	_, err = p.client.Send(ctx, &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: title, Body: message},
		Data:         data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// LogPusher stands in for FCM in local runs.
type LogPusher struct {
	Log logrus.FieldLogger
}

func (p LogPusher) Push(_ context.Context, userID types.ID, title, message string, data map[string]string) error {
	p.Log.WithFields(logrus.Fields{
		"user_id": userID,
		"title":   title,
		"type":    data["type"],
	}).Info(message)
	return nil
}
