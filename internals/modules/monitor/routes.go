package monitor

import (
	middle "vigil/internals/middleware"

	"github.com/go-chi/chi/v5"
)

func Register(r chi.Router, h *Handler, authMW *middle.AuthMiddleware) {
	r.With(authMW.Handle).Post("/monitors", h.CreateMonitor)

	r.Route("/monitor/{slug}", func(m chi.Router) {
		m.Post("/", h.CheckIn)
		m.With(authMW.Handle).Get("/", h.GetMonitor)
		m.With(authMW.Handle).Delete("/", h.DeleteMonitor)
	})
}

/*
- POST: /monitors  -> register monitor + webhook
	req auth : x-admin-key / x-user-key / Bearer
	body : CreateMonitorRequest
	resp : CreateMonitorResponse

- POST: /monitor/{slug}  -> check-in
	req auth : x-api-key header
	resp : "Update successful"

- GET: /monitor/{slug}  -> owner/admin view
- DELETE: /monitor/{slug}  -> owner/admin delete, cascades webhooks
*/
