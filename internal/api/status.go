package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/chalmers-revere/cloudrec/internal/api/models"
)

// StatusSource reports a snapshot of the running recording. The recorder
// implements it so the server stays decoupled from capture internals.
type StatusSource interface {
	RecordingStatus() models.StatusData
}

// registerStatusRoutes registers the recording status endpoint.
func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Get the current recording state and counters",
		Tags:        []string{"recording"},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{
			Body: s.options.Status.RecordingStatus(),
		}, nil
	})
}
