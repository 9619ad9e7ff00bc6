package notification

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carpool/internal/types"
)

// TokenSource resolves device tokens for users; users without one are omitted.
type TokenSource interface {
	Tokens(ctx context.Context, userIDs []types.ID) ([]string, error)
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSink pushes intents through Firebase Cloud Messaging.
type FCMSink struct {
	tokens TokenSource
	client multicastSender
}

func NewFCMSink(tokens TokenSource, client *messaging.Client) *FCMSink {
	return &FCMSink{tokens: tokens, client: client}
}

func (s *FCMSink) Name() string { return "fcm" }

func (s *FCMSink) Send(ctx context.Context, in Intent) error {
	tokens, err := s.tokens.Tokens(ctx, in.Recipients)
	if err != nil {
		return fmt.Errorf("resolving device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data: map[string]string{
			"ride_id": string(in.RideID),
			"screen":  in.Screen,
		},
		Notification: &messaging.Notification{
			Title: in.Title,
			Body:  in.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for ride %s: %w", string(in.RideID), err)
	}
	if resp.FailureCount > 0 {
		var errs []error
		for _, r := range resp.Responses {
			if !r.Success && r.Error != nil {
				errs = append(errs, r.Error)
			}
		}
		return fmt.Errorf("%d of %d FCM sends failed: %w", resp.FailureCount, len(tokens), errors.Join(errs...))
	}
	return nil
}

// FirestoreTokens reads the fcmToken field of users/{uid}.
type FirestoreTokens struct {
	client *firestore.Client
}

func NewFirestoreTokens(client *firestore.Client) *FirestoreTokens {
	return &FirestoreTokens{client: client}
}

func (t *FirestoreTokens) Tokens(ctx context.Context, userIDs []types.ID) ([]string, error) {
	refs := make([]*firestore.DocumentRef, len(userIDs))
	for i, u := range userIDs {
		refs[i] = t.client.Collection("users").Doc(string(u))
	}
	snaps, err := t.client.GetAll(ctx, refs)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, err
	}
	var out []string
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		v, err := snap.DataAt("fcmToken")
		if err != nil {
			continue
		}
		if tok, ok := v.(string); ok && tok != "" {
			out = append(out, tok)
		}
	}
	return out, nil
}
