package user

import (
	middle "vigil/internals/middleware"

	"github.com/go-chi/chi/v5"
)

func Register(r chi.Router, h *Handler, authMW *middle.AuthMiddleware) {
	r.Post("/users", h.Register)
	r.With(authMW.Handle).Delete("/users", h.Delete)
	r.Post("/login", h.LogIn)
}

/*
- POST: /users  -> register, returns the user_key capability token
- DELETE: /users  -> soft-delete the calling user's account
- POST: /login  -> returns user_key plus a short-lived access token
*/
