package connectivity

import (
	"encoding/json"
	"net/http"
)

type ModeRequest struct {
	Online *bool `json:"online"`
}

type ModeResponse struct {
	Online bool `json:"online"`
}

// SwitchHandler exposes a Switch over HTTP, the server-side take on an
// airplane-mode toggle.
type SwitchHandler struct {
	sw *Switch
}

func NewSwitchHandler(sw *Switch) *SwitchHandler {
	return &SwitchHandler{sw: sw}
}

func (h *SwitchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModeResponse{Online: h.sw.IsAvailable()})
}

func (h *SwitchHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"online": true|false}`})
		return
	}
	h.sw.Set(*req.Online)
	writeJSON(w, http.StatusOK, ModeResponse{Online: *req.Online})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
