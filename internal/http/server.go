// README: API gateway; registers gin routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carpool/internal/http/handlers"
	"carpool/internal/http/middleware"
	"carpool/internal/infra"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/matching"
)

type ServerDeps struct {
	Booking  *booking.Service
	Matching *matching.Service
	Verifier infra.TokenVerifier
	Log      *slog.Logger
}

type Server struct {
	booking  *booking.Service
	matching *matching.Service
	verifier infra.TokenVerifier
	log      *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		booking:  deps.Booking,
		matching: deps.Matching,
		verifier: deps.Verifier,
		log:      deps.Log,
	}
}

func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(s.verifier))

	rides := handlers.NewRideHandler(s.booking, s.matching)
	api.POST("/rides", rides.Create)
	api.POST("/rides/search", rides.Search)
	api.GET("/rides/:id", rides.Get)
	api.DELETE("/rides/:id", rides.Delete)
	api.PATCH("/rides/:id/schedule", rides.Reschedule)
	api.GET("/rides/:id/events", rides.Events)
	api.DELETE("/rides/:id/passengers/:passengerId", rides.RemovePassenger)

	requests := handlers.NewRequestHandler(s.booking)
	api.POST("/rides/:id/requests", requests.Create)
	api.GET("/rides/:id/requests", requests.List)
	api.POST("/rides/:id/requests/:requestId/approve", requests.Approve)
	api.POST("/rides/:id/requests/:requestId/decline", requests.Decline)
	api.POST("/rides/:id/requests/:requestId/cancel", requests.Cancel)

	admin := handlers.NewAdminHandler(s.booking)
	api.POST("/admin/sweep", admin.Sweep)

	return r
}
