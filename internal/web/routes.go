package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	d := s.deps

	configHandler := handlers.NewConfigHandler(s.config)
	qualityHandler := handlers.NewQualityHandler(d.Gate, s.config.Quality)
	enrollHandler := handlers.NewEnrollHandler(d.Sessions, d.Pipeline)
	pendingHandler := handlers.NewPendingHandler(d.Reviewer)
	recognizeHandler := handlers.NewRecognizeHandler(d.Recognition)
	personsHandler := handlers.NewPersonsHandler(d.Store, d.Blobs, d.Bus)
	groupsHandler := handlers.NewGroupsHandler(d.Store, d.Bus)
	adminHandler := handlers.NewAdminHandler(d.Store, d.Blobs, d.Bus)
	eventsHandler := handlers.NewEventsHandler(d.Bus)

	requireAdmin := middleware.RequireAdmin(s.config.Web.AdminToken)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-lived stream, no request timeout
		r.Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(5 * time.Minute))

			r.Get("/config", configHandler.Get)
			r.Post("/quality", qualityHandler.Check)
			r.Post("/recognize", recognizeHandler.Recognize)

			// Kiosk enrollment sessions
			r.Get("/enroll", enrollHandler.List)
			r.Post("/enroll", enrollHandler.Start)
			r.Get("/enroll/{id}", enrollHandler.Status)
			r.Put("/enroll/{id}/info", enrollHandler.Info)
			r.Post("/enroll/{id}/photo", enrollHandler.Photo)
			r.Post("/enroll/{id}/photos", enrollHandler.Photos)
			r.Post("/enroll/{id}/commit", enrollHandler.Commit)
			r.Delete("/enroll/{id}", enrollHandler.Cancel)

			// Remote submissions
			r.Post("/pending", pendingHandler.Submit)

			// Read-only directory
			r.Get("/persons", personsHandler.List)
			r.Get("/persons/{id}", personsHandler.Get)
			r.Get("/groups", groupsHandler.List)
			r.Get("/groups/{id}", groupsHandler.Get)

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/pending", pendingHandler.List)
				r.Get("/pending/{id}", pendingHandler.Get)
				r.Get("/pending/{id}/review", pendingHandler.Review)
				r.Post("/pending/{id}/accept", pendingHandler.Accept)
				r.Post("/pending/{id}/reject", pendingHandler.Reject)
				r.Post("/pending/accept", pendingHandler.BulkAccept)

				r.Get("/persons/{id}/photos/{photo}", personsHandler.Photo)
				r.Delete("/persons/{id}", personsHandler.Delete)
				r.Delete("/persons/{id}/photos/{photo}", personsHandler.DeletePhoto)

				r.Post("/groups", groupsHandler.Create)
				r.Put("/groups/{id}", groupsHandler.Update)
				r.Delete("/groups/{id}", groupsHandler.Delete)
				r.Put("/groups/{id}/members/{personId}", groupsHandler.AddMember)
				r.Delete("/groups/{id}/members/{personId}", groupsHandler.RemoveMember)

				r.Get("/stats", adminHandler.Stats)
				r.Post("/clear", adminHandler.Clear)
			})
		})
	})
}
