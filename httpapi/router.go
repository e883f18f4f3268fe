package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

//Prefix is the path the API is mounted under
const Prefix = "/api/1.0"

//NewRouter returns an HTTP router for the HTTP API. health may be nil.
func NewRouter(log zerolog.Logger, s SessionStore, db *sql.DB, chat *ChatHandler, catalogs CatalogFactory, health HealthChecker) http.Handler {
	log = log.With().Str("component", "http").Logger()

	//construct middleware
	var m = func(h returnHandler) http.Handler {
		return logMiddleware(jsonMiddleware(txMiddleware(authMiddleware(h, s, db), db)), log)
	}

	r := mux.NewRouter()

	r.Path("/users/").Methods("POST").Handler(m(handleCreateUserWithCredentials))
	r.Path("/users/{id:[0-9]+}").Methods("GET").Handler(m(handleReadUser))

	r.Path("/services/").Methods("GET").Handler(m(handleReadServices(catalogs)))
	r.Path("/projects/{id}/quotes/").Methods("GET").Handler(m(handleReadQuotes))

	r.Path("/auth").Methods("POST").Handler(logMiddleware(jsonMiddleware(txMiddleware(handleAuthenticate(s), db)), log))

	//chat WebSocket: no JSON middleware or request transaction, the connection is long lived
	r.Path("/chat/{projectID}").Methods("GET").Handler(logMiddleware(wsAuthMiddleware(chat.serve, s, db), log))

	r.Path("/health").Methods("GET").Handler(logMiddleware(jsonMiddleware(handleHealth(db, health)), log))
	r.Path("/metrics").Methods("GET").Handler(promhttp.Handler())

	r.NotFoundHandler = m(notFoundHandler)

	return http.StripPrefix(Prefix, r)
}
