package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

const healthTimeout = 5 * time.Second

//HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

//GET /health
func handleHealth(db *sql.DB, chat HealthChecker) returnHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		body := &HealthResponse{Database: "ok", ChatAPI: "ok"}
		code := http.StatusOK

		dbErr := db.PingContext(ctx)
		if dbErr != nil {
			body.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}

		//the chat API being down degrades chat but the server still serves guided services
		var chatErr error
		if chat != nil {
			if chatErr = chat.Healthy(ctx); chatErr != nil {
				body.ChatAPI = "unavailable"
			}
		}

		if dbErr != nil {
			return &handlerResponse{Code: code, Body: body, Err: dbErr}
		}
		return &handlerResponse{Code: code, Body: body, Err: chatErr}
	}
}
