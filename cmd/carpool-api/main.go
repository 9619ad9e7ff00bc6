// README: Entry point; loads config, wires services, starts HTTP server and the expire-sweep ticker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpool/internal/config"
	httptransport "carpool/internal/http"
	"carpool/internal/infra"
	"carpool/internal/logging"
	"carpool/internal/maps"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/detour"
	"carpool/internal/modules/matching"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/ride"
	"carpool/internal/modules/route"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("carpool-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	if cfg.Firebase.ProjectID == "" {
		return errors.New("CARPOOL_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	defer fb.Close()

	var store ride.Store
	switch cfg.Store {
	case "memory":
		store = ride.NewMemoryStore()
	default:
		store = ride.NewFirestoreStore(fb.Firestore)
	}

	var events ride.EventLog
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := ride.NewPGEventLog(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		events = pg
	}

	var lock booking.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		lock = booking.NewRedisLock(rdb)
	}

	routes, err := maps.NewRouteService(cfg.Maps.APIKey, maps.Options{
		Language: cfg.Maps.Language,
		Region:   cfg.Maps.Region,
		Location: loc,
	})
	if err != nil {
		return err
	}
	places, err := maps.NewPlacesService(cfg.Maps.APIKey, cfg.Maps.Language)
	if err != nil {
		return err
	}

	var sink notification.Sink
	switch cfg.Notify.Sink {
	case "fcm":
		sink = notification.NewFCMSink(notification.NewFirestoreTokens(fb.Firestore), fb.Messaging)
	case "kafka":
		ks := notification.NewKafkaSink(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		defer ks.Close()
		sink = ks
	default:
		sink = notification.NewLogSink(log)
	}

	evaluator := detour.NewEvaluator(routes)
	bookingSvc := booking.NewService(booking.Deps{
		Store:     store,
		Events:    events,
		Router:    routes,
		Evaluator: evaluator,
		Rebuilder: route.NewRebuilder(routes),
		Notifier:  notification.NewDispatcher(sink, log),
		Places:    places,
		Lock:      lock,
		Location:  loc,
	}, cfg.Booking, log)
	matchingSvc := matching.NewService(store, evaluator, matching.Config{
		WindowMinutes: cfg.Search.WindowMinutes,
		Concurrency:   cfg.Search.Concurrency,
	}, log)

	server := httptransport.NewServer(httptransport.ServerDeps{
		Booking:  bookingSvc,
		Matching: matchingSvc,
		Verifier: fb.Verifier,
		Log:      log,
	})
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: server.Routes()}

	go bookingSvc.RunExpireTicker(ctx, cfg.SweepInterval)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}()

	log.Info("carpool-api listening", "addr", cfg.HTTP.Addr, "store", cfg.Store, "notify", sink.Name())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
