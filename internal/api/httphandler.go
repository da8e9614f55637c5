package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"listsync/internal/flow"
	"listsync/internal/hub"
	"listsync/internal/types"
)

type Handler struct {
	Flow *flow.Flow
	Hub  *hub.Hub
}

func NewHandler(f *flow.Flow, h *hub.Hub) *Handler {
	return &Handler{Flow: f, Hub: h}
}

func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path == "/ws" {
				// httpsnoop's wrapped writer hides the Hijacker needed by the
				// websocket upgrade.
				handler.ServeHTTP(writer, request)
				return
			}
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			log.WithFields(log.Fields{
				"method":   request.Method,
				"url":      request.URL.String(),
				"duration": m.Duration,
				"status":   m.Code,
			}).Info("handled")
		})
	})

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(h.handleHealth)
	r.Methods(http.MethodGet).Path("/lists/{listId}").HandlerFunc(h.handleFetchList)
	r.Methods(http.MethodPost).Path("/lists/{listId}/items").HandlerFunc(h.handleAddItem)
	r.Methods(http.MethodPatch).Path("/lists/{listId}/items/{itemId}").HandlerFunc(h.handleUpdateItem)
	r.Methods(http.MethodDelete).Path("/lists/{listId}/items/{itemId}").HandlerFunc(h.handleDeleteItem)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(h.handleWS)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, http.StatusOK, map[string]any{"status": "ok"}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleFetchList(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["listId"]
	list, err := h.Flow.FetchList(r.Context(), listID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, list); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

type addItemRequest struct {
	Label   string `json:"label"`
	AddedBy string `json:"addedBy"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["listId"]
	var req addItemRequest
	if !readBody(w, r, &req) {
		return
	}
	item, err := h.Flow.AddItem(r.Context(), listID, req.Label, req.AddedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, item); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var patch types.ItemPatch
	if !readBody(w, r, &patch) {
		return
	}
	item, err := h.Flow.UpdateItem(r.Context(), vars["listId"], vars["itemId"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, item); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, err := h.Flow.DeleteItem(r.Context(), vars["listId"], vars["itemId"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, item); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

// readBody decodes the request body into out, answering 400 itself on bad
// input. Bodies are capped at 1 MiB.
func readBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return false
	}
	defer func() {
		_ = r.Body.Close()
	}()
	if len(body) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "empty body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// writeError maps the error taxonomy onto status codes: validation 400,
// not-found 404, anything else 500.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	}
	writeErrorMessage(w, code, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, code int, msg string) {
	if err := writeJSON(w, code, map[string]any{"error": msg}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
