package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/chalmers-revere/cloudrec/internal/api/models"
	"github.com/chalmers-revere/cloudrec/internal/logging"
)

// registerLogRoutes registers the log history endpoint.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Logs",
		Description: "Get recent log entries from the in-memory ring buffer, oldest first",
		Tags:        []string{"logs"},
	}, func(_ context.Context, input *struct {
		Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum number of entries to return, counted from the newest"`
	}) (*models.LogsResponse, error) {
		var entries []logging.LogEntry
		if buffer := logging.GetBuffer(); buffer != nil {
			entries = buffer.Last(input.Limit)
		}
		return &models.LogsResponse{
			Body: models.LogsData{
				Entries: entries,
				Count:   len(entries),
			},
		}, nil
	})
}
