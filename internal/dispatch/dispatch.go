// Package dispatch implements the Deferred Dispatcher (C7): ingress that
// publishes task and text-message jobs, and a consumer loop that either
// backpressures against an active session or wakes the edge device through
// C8 for an inactive one.
//
// Grounded on original_source/app/enqueue/task_enqueue.py and
// message_enqueue.py (ingress shapes, the 1-minute text-message delay, the
// title/description derivation from a loose task_info map) and
// listener/function_app.py's QueueWorker (the active/inactive branch and
// the re-schedule-one-minute-later backpressure).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/store"
)

// Subject is the single JetStream subject every job is published to,
// mirroring the original's single Service Bus queue ("q1") carrying both
// task and text-message jobs, discriminated by payload shape.
const Subject = "reminderd.dispatch.jobs"

const reconsiderDelay = 1 * time.Minute

// TaskJob is the wire shape for a task-reminder job (spec.md §6).
type TaskJob struct {
	TaskID      string `json:"task_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PendingTask bool   `json:"pending_task"`
}

// TextMessageJob is the wire shape for a text-message-delivery job (spec.md §6).
type TextMessageJob struct {
	MessageType    string `json:"message_type"`
	UserID         string `json:"user_id"`
	ChatID         string `json:"chat_id"`
	PendingTask    bool   `json:"pending_task"`
	PendingMessage bool   `json:"pending_message"`
	MessageID      string `json:"message_id,omitempty"`
}

// job is the envelope used on the wire between ingress and consumer; it
// carries whichever of Task/TextMessage is populated.
type job struct {
	Task        *TaskJob        `json:"task,omitempty"`
	TextMessage *TextMessageJob `json:"text_message,omitempty"`
}

// DeviceWaker pushes a one-shot control-plane wake to a user's edge device
// (C8). Declared locally so this package does not need to import
// internal/outbound; satisfied by *outbound.DeviceWaker.
type DeviceWaker interface {
	Wake(ctx context.Context, userID, reason string, payload map[string]any) error
}

// SessionReader is the subset of store.Store the consumer needs to decide
// whether to backpressure or wake. store.Store satisfies it directly.
type SessionReader interface {
	GetSession(ctx context.Context, userID string) (store.Session, error)
}

// publisher is the slice of nats.JetStreamContext that publishAt depends
// on; factored out so tests can supply a fake without a live broker.
type publisher interface {
	Publish(subject string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// streamName is the JetStream stream backing Subject. A single stream with
// file storage gives the consumer crash-durable redelivery, matching the
// at-least-once semantics the original relied on from Service Bus.
const streamName = "REMINDERD_DISPATCH"

// Dispatcher is the C7 ingress and consumer. A single Dispatcher is shared
// across the process; its methods are safe for concurrent use.
type Dispatcher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	pub     publisher
	store   SessionReader
	claimer store.Store
	waker   DeviceWaker
	logger  *slog.Logger
}

// New connects to the NATS broker at url, ensures the backing JetStream
// stream exists, and returns a ready Dispatcher. claimer is used both for
// the pending-delivery conditional insert at ingress and for the
// consumer's session lookup, so it is typed as the full store.Store rather
// than two narrower interfaces.
func New(url string, claimer store.Store, waker DeviceWaker, logger *slog.Logger) (*Dispatcher, error) {
	nc, err := nats.Connect(url,
		nats.Name("reminderd-dispatch"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("dispatch: broker disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if logger != nil {
				logger.Info("dispatch: broker reconnected", "url", c.ConnectedUrl())
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch: connect: %w: %v", errs.ErrQueueBroker, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("dispatch: jetstream context: %w: %v", errs.ErrQueueBroker, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{Subject},
		Storage:  nats.FileStorage,
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("dispatch: ensure stream: %w: %v", errs.ErrQueueBroker, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{nc: nc, js: js, pub: js, store: claimer, claimer: claimer, waker: waker, logger: logger}, nil
}

// Close drains and closes the broker connection.
func (d *Dispatcher) Close() {
	if err := d.nc.Drain(); err != nil {
		d.logger.Warn("dispatch: drain failed", "err", err)
		d.nc.Close()
	}
}

// EnqueueTask implements tool.TaskEnqueuer: it derives a presentational
// title/description from info (prepare_message_contents) and schedules the
// job for executeAt. Satisfies the TaskEnqueuer interface createtasks.go
// declares locally.
func (d *Dispatcher) EnqueueTask(ctx context.Context, taskID, userID string, info map[string]string, executeAt time.Time) error {
	title, description := taskPresentation(info)
	j := job{Task: &TaskJob{
		TaskID:      taskID,
		UserID:      userID,
		Title:       title,
		Description: description,
		PendingTask: true,
	}}
	return d.publishAt(j, executeAt)
}

// EnqueueTextMessage implements the text-message ingress path (spec.md
// §4.7, §4.8): claim the per-user pending-delivery slot, and only on
// success publish a job scheduled one minute out. Returns enqueued=false,
// nil error when a job is already pending for this user (Invariant 5).
func (d *Dispatcher) EnqueueTextMessage(ctx context.Context, userID, chatID, messageID string) (enqueued bool, err error) {
	claimed, err := d.claimer.TryClaimPendingDelivery(ctx, userID, messageID)
	if err != nil {
		return false, fmt.Errorf("dispatch: claim pending delivery: %w: %v", errs.ErrStoreUnavailable, err)
	}
	if !claimed {
		return false, nil
	}

	j := job{TextMessage: &TextMessageJob{
		MessageType:    "text_message",
		UserID:         userID,
		ChatID:         chatID,
		PendingTask:    false,
		PendingMessage: true,
		MessageID:      messageID,
	}}
	if err := d.publishAt(j, time.Now().Add(reconsiderDelay)); err != nil {
		if clearErr := d.claimer.ClearPendingDelivery(ctx, userID); clearErr != nil {
			d.logger.Warn("dispatch: failed to release pending-delivery claim after publish failure",
				"user_id", userID, "err", clearErr)
		}
		return false, fmt.Errorf("dispatch: publish text message job: %w: %v", errs.ErrQueueBroker, err)
	}
	return true, nil
}

// publishAt schedules j for delivery at when. JetStream has no native
// deliver-at the way Azure Service Bus's schedule_messages does, so the
// delay is modeled with an in-process timer that publishes once it fires —
// see DESIGN.md Open Question 4 for the full rationale. A non-positive
// delay publishes immediately.
func (d *Dispatcher) publishAt(j job, when time.Time) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	delay := time.Until(when)
	if delay <= 0 {
		_, err := d.pub.Publish(Subject, data)
		return err
	}
	time.AfterFunc(delay, func() {
		if _, err := d.pub.Publish(Subject, data); err != nil {
			d.logger.Error("dispatch: delayed publish failed", "err", err, "subject", Subject)
		}
	})
	return nil
}

// taskPresentation derives a title/description pair from a task's loose
// info map, grounded on task_enqueue.py's prepare_message_contents: an
// explicit title/description wins; otherwise the first line (≤50 chars) of
// a free-form "description" value, or of the "info" value when there is no
// description, stands in for the title.
func taskPresentation(info map[string]string) (title, description string) {
	if t := info["title"]; t != "" {
		title = t
		description = info["description"]
		if description == "" {
			description = info["info"]
		}
		return title, description
	}

	description = info["description"]
	if description == "" {
		description = info["info"]
	}
	if description == "" {
		return "Task", ""
	}

	firstLine, _, _ := strings.Cut(description, "\n")
	if len(firstLine) > 50 {
		firstLine = firstLine[:50]
	}
	if firstLine == "" {
		firstLine = "Task"
	}
	return firstLine, description
}
