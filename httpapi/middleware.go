package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/korylprince/tevor-concierge/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

type handlerResponse struct {
	Code int
	Body interface{}
	User *api.User
	Err  error
}

type returnHandler func(http.ResponseWriter, *http.Request) *handlerResponse

var httpRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "concierge_http_requests_total",
		Help: "HTTP requests by method and response code",
	},
	[]string{"method", "code"},
)

//logMiddleware writes one access log event per request
func logMiddleware(next returnHandler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := next(w, r)

		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(resp.Code)).Inc()

		ev := log.Info()
		switch {
		case resp.Code >= 500:
			ev = log.Error()
		case resp.Err != nil:
			ev = log.Warn()
		}

		ev = ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("code", resp.Code).
			Str("status", http.StatusText(resp.Code)).
			Dur("duration", time.Since(start))
		if r.URL.RawQuery != "" {
			ev = ev.Str("query", r.URL.RawQuery)
		}
		if resp.User != nil {
			ev = ev.Int64("user_id", resp.User.ID).Str("email", resp.User.Email)
		}
		if resp.Err != nil {
			ev = ev.AnErr("error", resp.Err)
		}
		ev.Msg("request")
	})
}

//writeResponse writes resp as a JSON body
func writeResponse(w http.ResponseWriter, resp *handlerResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	return json.NewEncoder(w).Encode(resp.Body)
}

func jsonMiddleware(next returnHandler) returnHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		var resp *handlerResponse

		if r.Method != "GET" {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil {
				resp = handleError(http.StatusBadRequest, errors.New("Could not parse Content-Type"))
				goto serve
			}
			if mediaType != "application/json" {
				resp = handleError(http.StatusBadRequest, errors.New("Content-Type not application/json"))
				goto serve
			}
		}

		resp = next(w, r)

	serve:
		if err := writeResponse(w, resp); err != nil {
			return handleError(http.StatusInternalServerError, fmt.Errorf("Could encode json: %v", err))
		}
		return resp
	}
}

//sessionUser returns the User for the session key, reading it in its own transaction when
//ctx carries none. A nil User with a nil response means the session wasn't found.
func sessionUser(ctx context.Context, key string, s SessionStore, db *sql.DB) (*api.User, *handlerResponse) {
	sess, err := s.Check(key)
	if err != nil {
		return nil, handleError(http.StatusInternalServerError, fmt.Errorf("Could not check session key: %v", err))
	}
	if sess == nil {
		return nil, handleError(http.StatusUnauthorized, errors.New("Could not find session"))
	}

	if _, ok := ctx.Value(api.TransactionKey).(*sql.Tx); ok {
		user, err := api.ReadUser(ctx, sess.UserID)
		if resp := checkAPIError(err); resp != nil {
			return nil, resp
		}
		return user, nil
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, handleError(http.StatusInternalServerError, fmt.Errorf("Could not begin transaction: %v", err))
	}
	defer tx.Rollback()

	user, err := api.ReadUser(context.WithValue(ctx, api.TransactionKey, tx), sess.UserID)
	if resp := checkAPIError(err); resp != nil {
		return nil, resp
	}
	return user, nil
}

func authMiddleware(next returnHandler, s SessionStore, db *sql.DB) returnHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		key := r.Header.Get("X-Session-Key")
		if key == "" {
			return handleError(http.StatusUnauthorized, errors.New("X-Session-Key header empty"))
		}

		user, resp := sessionUser(r.Context(), key, s, db)
		if resp != nil {
			return resp
		}
		if user == nil {
			return handleError(http.StatusUnauthorized, errors.New("Could not find session user"))
		}

		ctx := context.WithValue(r.Context(), api.UserKey, user)
		resp = next(w, r.WithContext(ctx))
		resp.User = user

		return resp
	}
}

//wsAuthMiddleware authenticates a WebSocket upgrade. Browsers can't set headers on an upgrade,
//so the session key may also be given in the session_key query parameter. Failures are written
//as JSON before any upgrade happens.
func wsAuthMiddleware(next returnHandler, s SessionStore, db *sql.DB) returnHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		key := r.Header.Get("X-Session-Key")
		if key == "" {
			key = r.URL.Query().Get("session_key")
		}

		fail := func(resp *handlerResponse) *handlerResponse {
			if err := writeResponse(w, resp); err != nil {
				resp.Err = errors.Join(resp.Err, err)
			}
			return resp
		}

		if key == "" {
			return fail(handleError(http.StatusUnauthorized, errors.New("session key empty")))
		}

		user, resp := sessionUser(r.Context(), key, s, db)
		if resp != nil {
			return fail(resp)
		}
		if user == nil {
			return fail(handleError(http.StatusUnauthorized, errors.New("Could not find session user")))
		}

		ctx := context.WithValue(r.Context(), api.UserKey, user)
		resp = next(w, r.WithContext(ctx))
		resp.User = user

		return resp
	}
}

//txMiddleware runs the request in a transaction that is committed unless the handler
//returns an error response
func txMiddleware(next returnHandler, db *sql.DB) returnHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		tx, err := db.BeginTx(r.Context(), nil)
		if err != nil {
			return handleError(http.StatusInternalServerError, fmt.Errorf("Could not begin transaction: %v", err))
		}

		ctx := context.WithValue(r.Context(), api.TransactionKey, tx)
		resp := next(w, r.WithContext(ctx))

		if resp.Code >= 400 {
			if rErr := tx.Rollback(); rErr != nil && rErr != sql.ErrTxDone {
				resp.Err = errors.Join(resp.Err, fmt.Errorf("Could not rollback transaction: %w", rErr))
			}
			return resp
		}

		if err = tx.Commit(); err != nil {
			if rErr := tx.Rollback(); rErr != nil && rErr != sql.ErrTxDone {
				return handleError(http.StatusInternalServerError, fmt.Errorf("Could not rollback transaction: %v", rErr))
			}
			return handleError(http.StatusInternalServerError, fmt.Errorf("Could not commit transaction: %v", err))
		}

		return resp
	}
}
