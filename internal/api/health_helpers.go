package api

import (
	"context"
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}
	recordConfigured := func(component string, configured bool) componentStatus {
		status := "ok"
		if !configured {
			status = "disabled"
		}
		return componentStatus{Component: component, Status: status}
	}

	components := make([]componentStatus, 0, 4)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}
	components = append(components, recordConfigured("progress", h.Progress != nil))
	components = append(components, recordConfigured("clip_worker", h.Cutter != nil))
	components = append(components, recordConfigured("render_provider", h.Render != nil))

	return components, overallStatus, statusCode
}
