package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/store"
)

// TaskEnqueuer schedules a task for eventual delivery (C7). Satisfied by
// [github.com/reminderd/reminderd/internal/dispatch.Dispatcher].
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, taskID, userID string, info map[string]string, executeAt time.Time) error
}

// MessageEnqueuer schedules the pending-text-message wake path (C7).
// Satisfied by [github.com/reminderd/reminderd/internal/dispatch.Dispatcher].
type MessageEnqueuer interface {
	EnqueueTextMessage(ctx context.Context, userID, chatID, messageID string) (bool, error)
}

// Handler serves the REST ingress and task-CRUD surface described in
// spec.md §6. It is a thin translation layer over [store.Store] and the
// dispatch enqueuers; it holds no business logic of its own beyond request
// validation and status-code mapping.
type Handler struct {
	store  store.Store
	tasks  TaskEnqueuer
	msgs   MessageEnqueuer
	logger *slog.Logger
}

// New returns a ready Handler. taskEnqueuer and msgEnqueuer are typically
// the same *dispatch.Dispatcher value, accepted as two narrow interfaces so
// tests can supply independent fakes.
func New(st store.Store, taskEnqueuer TaskEnqueuer, msgEnqueuer MessageEnqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, tasks: taskEnqueuer, msgs: msgEnqueuer, logger: logger}
}

// Register adds every route this handler serves to mux, using Go 1.22's
// method-and-pattern mux syntax.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /messages", h.createMessage)
	mux.HandleFunc("POST /messages/enqueue", h.enqueueMessage)
	mux.HandleFunc("GET /messages", h.listMessages)

	mux.HandleFunc("GET /tasks/{user_id}", h.listTasks)
	mux.HandleFunc("GET /tasks/{user_id}/{task_id}", h.getTask)
	mux.HandleFunc("POST /tasks", h.createTask)
	mux.HandleFunc("PUT /tasks/{user_id}/{task_id}", h.updateTask)
	mux.HandleFunc("DELETE /tasks/{user_id}/{task_id}", h.deleteTask)
	mux.HandleFunc("POST /enqueue-task", h.enqueueTask)
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" || req.ChatID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "user_id, chat_id, and content are required")
		return
	}

	id, err := h.store.CreateMessage(r.Context(), store.Message{
		ChatID:    req.ChatID,
		SenderID:  req.UserID,
		Content:   req.Content,
		CreatedAt: req.Timestamp,
	})
	if err != nil {
		h.writeStoreErr(w, "create message", err)
		return
	}

	writeJSON(w, http.StatusCreated, createMessageResponse{
		MessageID: id,
		ChatID:    req.ChatID,
		SenderID:  req.UserID,
		Content:   req.Content,
		CreatedAt: req.Timestamp,
	})
}

func (h *Handler) enqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req enqueueMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" || req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "user_id and chat_id are required")
		return
	}

	enqueued, err := h.msgs.EnqueueTextMessage(r.Context(), req.UserID, req.ChatID, "")
	if err != nil {
		h.writeStoreErr(w, "enqueue text message", err)
		return
	}

	msg := "a delivery was already pending for this user"
	if enqueued {
		msg = "enqueued"
	}
	writeJSON(w, http.StatusOK, enqueueMessageResponse{Enqueued: enqueued, Message: msg})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id query parameter is required")
		return
	}

	msgs, err := h.store.ListUnreadMessagesForChat(r.Context(), chatID)
	if err != nil {
		h.writeStoreErr(w, "list messages", err)
		return
	}

	dtos := make([]messageDTO, len(msgs))
	for i, m := range msgs {
		dtos[i] = messageDTO{
			ChatID:    m.ChatID,
			MessageID: m.MessageID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			IsRead:    m.IsRead,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	from, to, ok := parseRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and to query parameters must be RFC3339 timestamps")
		return
	}

	tasks, err := h.store.ListTasksByUserInRange(r.Context(), userID, from, to)
	if err != nil {
		h.writeStoreErr(w, "list tasks", err)
		return
	}

	dtos := make([]taskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID := r.PathValue("user_id"), r.PathValue("task_id")

	t, err := h.store.GetTask(r.Context(), userID, taskID)
	if err != nil {
		h.writeStoreErr(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(t))
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" || req.TimeToExecute.IsZero() {
		writeError(w, http.StatusBadRequest, "user_id and time_to_execute are required")
		return
	}

	id, err := h.store.CreateTask(r.Context(), store.Task{
		UserID:        req.UserID,
		Info:          req.Info,
		Status:        store.TaskPending,
		TimeToExecute: req.TimeToExecute,
	})
	if err != nil {
		h.writeStoreErr(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, createTaskResponse{TaskID: id})
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID := r.PathValue("user_id"), r.PathValue("task_id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	patch := store.TaskPatch{
		Info:          req.Info,
		TimeToExecute: req.TimeToExecute,
	}
	if req.Status != nil {
		s := store.TaskStatus(*req.Status)
		patch.Status = &s
	}

	if err := h.store.UpdateTask(r.Context(), userID, taskID, patch); err != nil {
		h.writeStoreErr(w, "update task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID := r.PathValue("user_id"), r.PathValue("task_id")

	if err := h.store.DeleteTask(r.Context(), userID, taskID); err != nil {
		h.writeStoreErr(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// enqueueTask schedules an existing, already-persisted task for dispatch.
// Separate from createTask because the scheduling side (C7) and the CRUD
// side (this handler's task store operations) can fail independently — a
// task may be created but its dispatch scheduling retried separately.
func (h *Handler) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TaskID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "task_id and user_id are required")
		return
	}

	t, err := h.store.GetTask(r.Context(), req.UserID, req.TaskID)
	if err != nil {
		h.writeStoreErr(w, "enqueue task", err)
		return
	}

	if err := h.tasks.EnqueueTask(r.Context(), t.ID, t.UserID, t.Info, t.TimeToExecute); err != nil {
		h.logger.Error("rest: enqueue task failed", "task_id", t.ID, "err", err)
		writeError(w, http.StatusBadGateway, "failed to schedule task")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func toTaskDTO(t store.Task) taskDTO {
	return taskDTO{
		TaskID:        t.ID,
		UserID:        t.UserID,
		Info:          t.Info,
		Status:        string(t.Status),
		TimeToExecute: t.TimeToExecute,
	}
}

func parseRange(r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, false
	}
	var err error
	from, err = time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err = time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handler) writeStoreErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrStoreUnavailable):
		h.logger.Error(fmt.Sprintf("rest: %s", op), "err", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.logger.Error(fmt.Sprintf("rest: %s", op), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
