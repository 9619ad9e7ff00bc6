// README: Notification intents emitted after ride mutations commit, and the best-effort dispatcher draining them.
package notification

import (
	"context"
	"log/slog"

	"carpool/internal/observability"
	"carpool/internal/types"
)

// Screen hints tell the app which page to open from a notification.
const (
	ScreenRideDetail  = "ride_detail"
	ScreenRequestList = "request_list"
	ScreenMyRides     = "my_rides"
)

// Intent is one notification to deliver; it carries no delivery state.
type Intent struct {
	Recipients []types.ID `json:"recipients"`
	RideID     types.ID   `json:"ride_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Screen     string     `json:"screen"`
}

// Sink delivers a single intent.
type Sink interface {
	Name() string
	Send(ctx context.Context, in Intent) error
}

// Dispatcher fans intents out to a sink. Delivery failures are logged and
// counted, never returned.
type Dispatcher struct {
	sink Sink
	log  *slog.Logger
}

func NewDispatcher(sink Sink, log *slog.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, intents ...Intent) {
	for _, in := range intents {
		if len(in.Recipients) == 0 {
			continue
		}
		if err := d.sink.Send(ctx, in); err != nil {
			observability.NotificationsSent.WithLabelValues(d.sink.Name(), "error").Inc()
			d.log.Warn("notification failed", "sink", d.sink.Name(), "ride_id", in.RideID, "recipients", in.Recipients, "error", err)
			continue
		}
		observability.NotificationsSent.WithLabelValues(d.sink.Name(), "ok").Inc()
	}
}

// LogSink only writes intents to the log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, in Intent) error {
	s.log.Info("notification", "ride_id", in.RideID, "recipients", in.Recipients, "title", in.Title, "body", in.Body, "screen", in.Screen)
	return nil
}
