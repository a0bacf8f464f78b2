// Package rest implements the REST half of Outbound Channels (C8): message
// ingestion/enqueue and task CRUD (spec.md §6).
package rest

import "time"

// createMessageRequest is the body of POST /messages.
type createMessageRequest struct {
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type createMessageResponse struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// enqueueMessageRequest is the body of POST /messages/enqueue.
type enqueueMessageRequest struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

type enqueueMessageResponse struct {
	Enqueued bool   `json:"enqueued"`
	Message  string `json:"message"`
}

type messageDTO struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

type taskDTO struct {
	TaskID        string            `json:"task_id"`
	UserID        string            `json:"user_id"`
	Info          map[string]string `json:"info"`
	Status        string            `json:"status"`
	TimeToExecute time.Time         `json:"time_to_execute"`
}

// createTaskRequest is the body of POST /tasks.
type createTaskRequest struct {
	UserID        string            `json:"user_id"`
	Info          map[string]string `json:"info"`
	TimeToExecute time.Time         `json:"time_to_execute"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
}

// updateTaskRequest is the body of PUT /tasks/{user_id}/{task_id}. Nil
// fields leave the stored value unchanged, mirroring store.TaskPatch.
type updateTaskRequest struct {
	Info          map[string]string `json:"info,omitempty"`
	Status        *string           `json:"status,omitempty"`
	TimeToExecute *time.Time        `json:"time_to_execute,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
