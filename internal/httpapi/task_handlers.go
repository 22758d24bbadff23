package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tasktrail.org/internal/tasks"
)

type createTaskRequest struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Status       tasks.Status   `json:"status"`
	Category     tasks.Category `json:"category"`
	AssignedToID *string        `json:"assignedToId"`
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := a.tasks.Create(r.Context(), tasks.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Status:       req.Status,
		Category:     req.Category,
		AssignedToID: req.AssignedToID,
	}, identity(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/tasks/"+task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	list, err := a.tasks.FindAll(r.Context(), identity(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if list == nil {
		list = []tasks.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.tasks.FindOne(r.Context(), chi.URLParam(r, "id"), identity(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.UpdateInput
	if !decode(w, r, &in) {
		return
	}
	task, err := a.tasks.Update(r.Context(), chi.URLParam(r, "id"), in, identity(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.tasks.Remove(r.Context(), chi.URLParam(r, "id"), identity(r)); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) auditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := a.tasks.AuditLogs(r.Context(), identity(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
