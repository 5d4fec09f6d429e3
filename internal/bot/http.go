package bot

import (
	"encoding/json"
	"net/http"
	"strings"

	"example.com/worklog/internal/auth"
)

// CommandRequest is one gateway-forwarded chat invocation.
type CommandRequest struct {
	GuildID  string   `json:"guild_id"`
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Args     []string `json:"args"`
	Elevated bool     `json:"elevated"`
}

// CommandResponse carries the rendered reply back to the gateway.
type CommandResponse struct {
	Reply string `json:"reply"`
}

// HTTPHandler exposes the router over HTTP for the platform gateway, which
// owns the chat connection and forwards parsed commands here.
type HTTPHandler struct {
	router *Router
}

// NewHTTPHandler constructs an HTTPHandler.
func NewHTTPHandler(router *Router) *HTTPHandler {
	return &HTTPHandler{router: router}
}

// RegisterRoutes wires the command endpoint to the mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/commands", h.command)
}

func (h *HTTPHandler) command(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeCommands) {
		writeJSONError(w, http.StatusForbidden, "scope worklog:commands required")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "unable to parse body")
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, http.StatusBadRequest, "guild_id and user_id are required")
		return
	}

	reply := h.router.Handle(r.Context(), Command{
		GuildID:  req.GuildID,
		UserID:   req.UserID,
		Username: req.Username,
		Name:     req.Name,
		Args:     req.Args,
		Elevated: req.Elevated,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(CommandResponse{Reply: reply})
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
