package httpapi

import (
	"net/http"

	"github.com/korylprince/tevor-concierge/service"
	"github.com/rs/zerolog"
)

//CatalogFactory returns a Catalog with every guided service registered. A chat connection
//gets its own Catalog so service sessions are never shared between users.
type CatalogFactory func(log zerolog.Logger) *service.Catalog

//GET /services/
func handleReadServices(catalogs CatalogFactory) returnHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		c := catalogs(zerolog.Nop())

		services := make([]*ServiceResponse, 0)
		for _, cfg := range c.ListEnabled() {
			resp := &ServiceResponse{Config: cfg, Actions: make([]service.ActionDescriptor, 0)}
			if def, ok := c.Get(cfg.ID); ok {
				resp.Actions = append(resp.Actions, def.AvailableActions()...)
			}
			services = append(services, resp)
		}

		return &handlerResponse{Code: http.StatusOK, Body: &ReadServicesResponse{Services: services}}
	}
}
