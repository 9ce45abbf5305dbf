package http

import (
	"net/http"
	"time"

	httpmw "github.com/huddleplan/call-service/internal/transport/http/middleware"
	"github.com/huddleplan/call-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.RequestLog)

	// WS endpoint
	r.Get("/ws/sessions/{id}", wsServer.HandleWS)

	// session + call-control API, auth required
	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/sessions", func(sr chi.Router) {
			sr.Post("/", h.CreateSession)
			sr.Get("/", h.ListSessions)

			sr.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetSession)

				rr.Route("/call", func(cr chi.Router) {
					cr.Post("/", h.CreateMainRoom)
					cr.Post("/load", h.LoadMainRoom)
					cr.Get("/state", h.CallState)
					cr.Get("/chat", h.GetChatHistory)

					cr.Route("/breakouts", func(br chi.Router) {
						br.Post("/", h.CreateBreakouts)
						br.Post("/join", h.JoinBreakout)
						br.Post("/leave", h.LeaveBreakout)
						br.Post("/end", h.EndBreakouts)
					})

					cr.Post("/activity", h.StartActivity)
					cr.Delete("/activity", h.EndActivity)
					cr.Post("/activity/events", h.SendActivityEvent)
					cr.Post("/reactions", h.SendReaction)
				})
			})
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
