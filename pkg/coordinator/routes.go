package coordinator

import (
	"net/http"

	"github.com/csremote/broker/pkg/network/httpx"
)

// Routes returns the HTTP handler with the websocket endpoints and the pairing API.
func (h *Hub) Routes() *httpx.Mux {
	mux := httpx.NewServeMux("")
	mux.HandleMethod(http.MethodGet, "/ws/chat/{session}", h.handleChat)
	mux.HandleMethod(http.MethodGet, "/ws/signaling/{session}", h.handleSignaling)

	mux.HandleMethod(http.MethodPost, "/api/codes", h.issueCode)
	mux.HandleMethod(http.MethodGet, "/api/codes/{code}", h.validateCode)
	mux.HandleMethod(http.MethodPost, "/api/sessions", h.startSession)
	mux.HandleMethod(http.MethodPost, "/api/sessions/{session}/end", h.endSession)
	mux.HandleMethod(http.MethodPut, "/api/sessions/{session}/grants", h.grant)
	mux.HandleMethod(http.MethodGet, "/api/sessions/{session}/capabilities", h.capabilities)
	mux.HandleMethod(http.MethodGet, "/api/sessions/{session}/status", h.status)
	mux.HandleMethod(http.MethodGet, "/api/sessions/{session}/messages", h.history)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	return mux
}
