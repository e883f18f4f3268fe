package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/korylprince/tevor-concierge/api"
)

//GET /projects/:id/quotes/
//Only the quote requests submitted by the authenticated user are returned.
func handleReadQuotes(w http.ResponseWriter, r *http.Request) *handlerResponse {
	projectID := mux.Vars(r)["id"]
	user := r.Context().Value(api.UserKey).(*api.User)

	quotes, err := api.ReadQuoteRequests(r.Context(), projectID)
	if resp := checkAPIError(err); resp != nil {
		return resp
	}

	userID := strconv.FormatInt(user.ID, 10)
	own := make([]*api.QuoteRequest, 0, len(quotes))
	for _, q := range quotes {
		if q.UserID == userID {
			own = append(own, q)
		}
	}

	return &handlerResponse{Code: http.StatusOK, Body: &ReadQuotesResponse{Quotes: own}}
}
