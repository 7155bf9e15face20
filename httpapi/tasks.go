package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ggoodman/taskd/auth"
	"github.com/ggoodman/taskd/tasks"
)

var errTrailingData = errors.New("trailing data after JSON body")

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server running"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prm)
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found")
}

// methodNotAllowed answers a known path hit with an unsupported method.
func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	if !requireJSON(w, r) {
		return
	}
	var in tasks.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}

	task, err := h.tasks.Create(r.Context(), user, in)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeSuccess(w, []tasks.Task{task})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	opts, err := listOptions(r)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}

	list, err := h.tasks.List(r.Context(), user, opts)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeSuccess(w, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	task, err := h.tasks.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeSuccess(w, []tasks.Task{task})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	if !requireJSON(w, r) {
		return
	}
	var in tasks.UpdateInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := h.tasks.Update(r.Context(), user, r.PathValue("id"), in)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	if res.NoChanges {
		writeJSON(w, http.StatusOK, envelope{Status: statusError, Message: "No fields to update"})
		return
	}
	writeSuccess(w, res.Tasks)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	task, err := h.tasks.Toggle(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeSuccess(w, task)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	deleted, err := h.tasks.Delete(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeSuccess(w, deleted)
}

// listOptions reads the completed and sort query parameters.
func listOptions(r *http.Request) (tasks.ListOptions, error) {
	q := r.URL.Query()
	opts := tasks.ListOptions{Sort: q.Get("sort")}

	if q.Has("completed") {
		switch q.Get("completed") {
		case "true":
			v := true
			opts.Completed = &v
		case "false":
			v := false
			opts.Completed = &v
		default:
			return opts, &tasks.ValidationError{Fields: map[string]string{"completed": "completed must be true or false"}}
		}
	}
	return opts, nil
}

// caller returns the identity attached by authenticated. A nil result is
// refused by tasks.NewGuard.
func caller(r *http.Request) auth.UserInfo {
	user, _ := auth.UserInfoFromContext(r.Context())
	return user
}

// decodeBody writes a 400 and returns false unless the body holds exactly one
// JSON value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errTrailingData
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeTaskError maps errors from tasks.Service onto responses. Only fixed
// messages reach the client.
func (h *Handler) writeTaskError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *tasks.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, envelope{Status: statusError, Message: verr.Error(), Errors: verr.Fields})
		return
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	kind := "internal"
	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, tasks.ErrConflict):
		kind = "conflict"
		status, msg = http.StatusConflict, "Task was modified concurrently"
	case errors.Is(err, tasks.ErrStoreRejected):
		kind = "rejected"
		status, msg = http.StatusForbidden, "Operation not permitted"
	case errors.Is(err, tasks.ErrUnavailable):
		kind = "unavailable"
		status, msg = http.StatusServiceUnavailable, "Service temporarily unavailable"
		w.Header().Set("Retry-After", "1")
	}
	if h.metrics != nil {
		h.metrics.StoreErrors.WithLabelValues(kind).Inc()
	}

	level := slog.LevelWarn
	if status == http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.Log(r.Context(), level, "http.tasks.fail", slog.Int("status", status), slog.String("err", err.Error()))
	writeError(w, status, msg)
}
