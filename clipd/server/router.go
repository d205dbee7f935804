package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/version", s.HandlerVersion)
	r.Post("/shutdown", s.HandlerShutdown)
	r.Method(http.MethodGet, "/metrics", s.Base.Metrics.Handler())
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.HandlerCreateTask)
		r.Get("/{id}", s.HandlerTaskStatus)
		r.Get("/{id}/stream", s.HandlerTaskStream)
		r.Get("/{id}/artifact", s.HandlerTaskArtifact)
	})
	return r
}
