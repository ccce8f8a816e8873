package app

import (
	"net/http"
	"time"

	middle "vigil/internals/middleware"
	"vigil/internals/modules/monitor"
	"vigil/internals/modules/user"
	"vigil/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func RegisterRoutes(c *Container) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middle.Logger(c.Logger))
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"health": "good!"})
	})

	user.Register(r, c.userHandler, c.authMW)
	monitor.Register(r, c.monitorHandler, c.authMW)

	return r
}
