package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Run subscribes to Subject as a durable JetStream consumer and processes
// jobs until ctx is cancelled. Each delivered job is handled per spec.md
// §4.7: an active session backpressures the job one minute further out; an
// inactive one wakes the device and lets the gateway clear the
// pending-delivery row once it has surfaced the content. A message is
// acked only after its handler returns, so a crash mid-handling leaves the
// job for JetStream's normal redelivery (spec.md §7's "failure policy").
func (d *Dispatcher) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := d.js.ChanSubscribe(Subject, msgs,
		nats.Durable("reminderd-consumer"),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("dispatch: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			d.handleDelivery(ctx, msg.Data)
			if err := msg.Ack(); err != nil {
				d.logger.Warn("dispatch: ack failed", "err", err)
			}
		}
	}
}

func (d *Dispatcher) handleDelivery(ctx context.Context, data []byte) {
	var j job
	if err := json.Unmarshal(data, &j); err != nil {
		d.logger.Warn("dispatch: malformed job payload", "err", err)
		return
	}

	switch {
	case j.Task != nil:
		d.handleTaskJob(ctx, *j.Task)
	case j.TextMessage != nil:
		d.handleTextMessageJob(ctx, *j.TextMessage)
	default:
		d.logger.Warn("dispatch: job carries neither task nor text_message payload")
	}
}

func (d *Dispatcher) handleTaskJob(ctx context.Context, t TaskJob) {
	active, err := d.sessionActive(ctx, t.UserID)
	if err != nil {
		d.logger.Warn("dispatch: session lookup failed, dropping to broker redelivery", "user_id", t.UserID, "err", err)
		return
	}
	if active {
		d.reschedule(job{Task: &t})
		return
	}

	payload := map[string]any{"task_id": t.TaskID, "title": t.Title, "description": t.Description, "pending_task": true}
	if err := d.waker.Wake(ctx, t.UserID, "task", payload); err != nil {
		d.logger.Warn("dispatch: device wake failed for task job", "user_id", t.UserID, "task_id", t.TaskID, "err", err)
	}
}

func (d *Dispatcher) handleTextMessageJob(ctx context.Context, m TextMessageJob) {
	active, err := d.sessionActive(ctx, m.UserID)
	if err != nil {
		d.logger.Warn("dispatch: session lookup failed, dropping to broker redelivery", "user_id", m.UserID, "err", err)
		return
	}
	if active {
		d.reschedule(job{TextMessage: &m})
		return
	}

	payload := map[string]any{"pending_messages": true}
	if m.MessageID != "" {
		payload["message_id"] = m.MessageID
	}
	if err := d.waker.Wake(ctx, m.UserID, "text_message", payload); err != nil {
		d.logger.Warn("dispatch: device wake failed for text message job", "user_id", m.UserID, "err", err)
	}
}

// reschedule re-publishes j one minute out, implementing the backpressure
// path against an already-active session (spec.md §4.7 step 2).
func (d *Dispatcher) reschedule(j job) {
	if err := d.publishAt(j, time.Now().Add(reconsiderDelay)); err != nil {
		d.logger.Error("dispatch: reschedule publish failed", "err", err)
	}
}

func (d *Dispatcher) sessionActive(ctx context.Context, userID string) (bool, error) {
	sess, err := d.store.GetSession(ctx, userID)
	if err != nil {
		return false, err
	}
	return sess.IsActive, nil
}
