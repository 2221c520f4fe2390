// Package http exposes the job API: submission, inspection, cancellation
// and a server-sent-events progress stream per job.
package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mediaforge/mediaforge/internal/service"
)

type Server struct {
	router   *mux.Router
	handlers *Handlers
	sse      *SSEHandler
}

func NewServer(jobSvc *service.JobService) *Server {
	router := mux.NewRouter()
	s := &Server{
		router:   router,
		handlers: NewHandlers(jobSvc),
		sse:      NewSSEHandler(jobSvc),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.handlers.SubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handlers.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handlers.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handlers.DeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/cancel", s.handlers.CancelJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/events", s.sse.Events).Methods(http.MethodGet)
	api.HandleFunc("/healthz", s.handlers.Health).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}
