package handlers

import (
	"net/http"
)

type StatusResponse struct {
	Status        string `json:"status"`
	EventSource   string `json:"event_source,omitempty"`
	Subscriptions int    `json:"subscriptions"`
}

// StatusSource reports node state for the status endpoint. A nil source
// yields the bare OK response.
type StatusSource interface {
	EventSource() string
	Subscriptions() int
}

func StatusGetHandler(r *http.Request, src StatusSource) (StatusResponse, error) {
	resp := StatusResponse{Status: "OK"}
	if src != nil {
		resp.EventSource = src.EventSource()
		resp.Subscriptions = src.Subscriptions()
	}
	return resp, nil
}
