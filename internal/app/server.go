package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"prompt-cache/internal/handlers"
	"prompt-cache/internal/server"
)

// RunServer builds the HTTP server with all handlers configured
func (app *App) RunServer() (*server.Server, http.Handler) {
	h := handlers.New(app.Store, app.Invalidator, app.Sessions, app.Metrics, nil)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.RateLimiter, app.Metrics != nil)

	srv := server.New(router, app.Config.Port, "", "", nil)

	return srv, router
}
