package httpapi

import (
	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/service"
)

//AuthenticateResponse is a successful authentication response including the session key and User
type AuthenticateResponse struct {
	SessionKey string    `json:"session_key"`
	User       *api.User `json:"user"`
}

//ServiceResponse describes a guided service and the quick actions it offers
type ServiceResponse struct {
	service.Config
	Actions []service.ActionDescriptor `json:"actions"`
}

//ReadServicesResponse contains the registered guided services
type ReadServicesResponse struct {
	Services []*ServiceResponse `json:"services"`
}

//ReadQuotesResponse contains the quote requests recorded for a project
type ReadQuotesResponse struct {
	Quotes []*api.QuoteRequest `json:"quotes"`
}

//HealthResponse reports the state of the server's dependencies
type HealthResponse struct {
	Database string `json:"database"`
	ChatAPI  string `json:"chat_api"`
}
