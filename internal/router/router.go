package router // package router registers the HTTP routes of the service

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-bot/internal/handler"
	"github.com/iliyamo/event-seat-bot/internal/middleware"
	"github.com/iliyamo/event-seat-bot/internal/model"
)

// RegisterRoutes registers the probes.  ready checks the service's
// dependencies.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterAuth registers staff login under /v1/auth.  limit guards the
// credential endpoints against guessing.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleStaff, model.RoleAdmin))
}

// RegisterStaff registers the staff API.  Every route needs a staff
// token; migration, store repair and account creation need ADMIN.
func RegisterStaff(e *echo.Echo, s *handler.StaffHandler, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/staff", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleStaff, model.RoleAdmin))
	g.GET("/reservations", s.ListReservations)
	g.GET("/reservations/:id", s.GetReservation)
	g.POST("/reservations/:id/transition", s.TransitionReservation)
	g.GET("/schedules/:id/waitlist", s.ListWaitlist)

	admin := g.Group("", middleware.RequireRole(model.RoleAdmin))
	admin.POST("/reservations/:id/migrate", s.MigrateReservation)
	admin.GET("/drifts", s.ListDrifts)
	admin.POST("/reconcile", s.Reconcile)
	admin.GET("/schedules/:id/compare", s.CompareStores)
	admin.POST("/users", a.CreateStaff)
}

// RegisterPayments registers the gateway callbacks.  They carry their own
// signatures instead of a JWT.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/payments", limit)
	g.POST("/webhook", p.Webhook)
	g.GET("/return", p.Return)
}

// RegisterPublic registers unauthenticated catalog reads behind limit and
// cache.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, limit, cache echo.MiddlewareFunc) {
	e.GET("/v1/events", p.ListEvents, limit, cache)
	e.GET("/v1/events/:id/schedules", p.ListSchedules, limit, cache)
	e.GET("/v1/schedules/:id/availability", p.GetAvailability, limit, cache)
}
