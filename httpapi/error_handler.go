package httpapi

import (
	"errors"
	"net/http"

	"github.com/korylprince/tevor-concierge/api"
)

//ErrorResponse represents an HTTP error. If the error is 409 Conflict, the DuplicateID field will be populated.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Error       string `json:"error"`
	DuplicateID int64  `json:"duplicate_id,omitempty"`
}

//handleError returns a handlerResponse response for the given code
func handleError(code int, err error) *handlerResponse {
	return &handlerResponse{Code: code, Body: &ErrorResponse{Code: code, Error: http.StatusText(code)}, Err: err}
}

//notFoundHandler returns a 404 handlerResponse
func notFoundHandler(w http.ResponseWriter, r *http.Request) *handlerResponse {
	return handleError(http.StatusNotFound, errors.New("Could not find handler"))
}

//checkAPIError checks an error and returns a handlerResponse for it, or nil if there was no error.
//Errors that aren't an *api.Error are server errors.
func checkAPIError(err error) *handlerResponse {
	if err == nil {
		return nil
	}

	var e *api.Error
	if !errors.As(err, &e) {
		return handleError(http.StatusInternalServerError, err)
	}

	switch e.Type {
	case api.ErrorTypeUser:
		return handleError(http.StatusBadRequest, err)
	case api.ErrorTypeDuplicate:
		return &handlerResponse{Code: http.StatusConflict, Body: &ErrorResponse{
			Code:        http.StatusConflict,
			Error:       http.StatusText(http.StatusConflict),
			DuplicateID: e.DuplicateID,
		}, Err: err}
	default:
		return handleError(http.StatusInternalServerError, err)
	}
}
