package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/segmentio/kafka-go"

	"carpool/internal/logging"
	"carpool/internal/types"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []Intent
	fail bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("unreachable")
	}
	s.sent = append(s.sent, in)
	return nil
}

func TestDispatcherSkipsEmptyRecipients(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, logging.Discard())
	d.Notify(context.Background(),
		Intent{RideID: "r1", Title: "nobody"},
		Intent{RideID: "r1", Recipients: []types.ID{"p1"}, Title: "hi"},
	)
	if len(sink.sent) != 1 || sink.sent[0].Title != "hi" {
		t.Fatalf("sent = %+v", sink.sent)
	}
}

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	d := NewDispatcher(&recordingSink{fail: true}, logging.Discard())
	// must not panic or block
	d.Notify(context.Background(), Intent{RideID: "r1", Recipients: []types.ID{"p1"}})
}

// ---------------------------------------------------------------------------
// Kafka sink
// ---------------------------------------------------------------------------

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublishesJSONKeyedByRide(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, timeout: time.Second}
	in := Intent{RideID: "r9", Recipients: []types.ID{"p1", "p2"}, Title: "t", Body: "b", Screen: ScreenRideDetail}
	if err := sink.Send(context.Background(), in); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "r9" {
		t.Fatalf("msgs = %+v", w.msgs)
	}
	var got Intent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Screen != ScreenRideDetail || len(got.Recipients) != 2 {
		t.Fatalf("payload = %+v", got)
	}
}

// ---------------------------------------------------------------------------
// FCM sink
// ---------------------------------------------------------------------------

type staticTokens map[types.ID]string

func (s staticTokens) Tokens(_ context.Context, ids []types.ID) ([]string, error) {
	var out []string
	for _, id := range ids {
		if tok, ok := s[id]; ok {
			out = append(out, tok)
		}
	}
	return out, nil
}

type fakeSender struct {
	mu      sync.Mutex
	msgs    []*messaging.MulticastMessage
	failAll bool
}

func (f *fakeSender) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	resp := &messaging.BatchResponse{}
	for range m.Tokens {
		if f.failAll {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Error: errors.New("unregistered")})
			continue
		}
		resp.SuccessCount++
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true})
	}
	return resp, nil
}

func TestFCMSinkSendsToResolvedTokens(t *testing.T) {
	sender := &fakeSender{}
	sink := &FCMSink{tokens: staticTokens{"p1": "tok1"}, client: sender}
	err := sink.Send(context.Background(), Intent{RideID: "r1", Recipients: []types.ID{"p1", "p2"}, Title: "Approved", Screen: ScreenRideDetail})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.msgs) != 1 {
		t.Fatalf("messages = %d", len(sender.msgs))
	}
	m := sender.msgs[0]
	if len(m.Tokens) != 1 || m.Tokens[0] != "tok1" || m.Data["ride_id"] != "r1" || m.Notification.Title != "Approved" {
		t.Fatalf("message = %+v", m)
	}
}

func TestFCMSinkNoTokensIsNoop(t *testing.T) {
	sender := &fakeSender{}
	sink := &FCMSink{tokens: staticTokens{}, client: sender}
	if err := sink.Send(context.Background(), Intent{RideID: "r1", Recipients: []types.ID{"p1"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.msgs) != 0 {
		t.Fatal("expected no FCM call without tokens")
	}
}

func TestFCMSinkReportsFailures(t *testing.T) {
	sink := &FCMSink{tokens: staticTokens{"p1": "tok1"}, client: &fakeSender{failAll: true}}
	if err := sink.Send(context.Background(), Intent{RideID: "r1", Recipients: []types.ID{"p1"}}); err == nil {
		t.Fatal("expected error when every send fails")
	}
}
