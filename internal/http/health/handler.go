package health

import (
	"encoding/json"
	"net/http"
)

// StatusOK is the only status the service reports.
const StatusOK = "OK"

// Response is the payload for the health endpoint.
type Response struct {
	Status string `json:"status"`
}

// Handler is a plain HTTP handler for the health check endpoint. It is mounted
// on the router directly so probes stay independent of the API layer.
func Handler(w http.ResponseWriter, _ *http.Request) {
	body, _ := json.Marshal(Response{Status: StatusOK})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
