package outbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type publishedMsg struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client
	mu        sync.Mutex
	published []publishedMsg
	failWith  error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishedMsg{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{err: c.failWith}
}

func (c *fakeClient) last() publishedMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[len(c.published)-1]
}

func newTestWaker(client *fakeClient) *DeviceWaker {
	return &DeviceWaker{client: client, topicPrefix: "devices", logger: slog.Default()}
}

func TestWake_PublishesToPerUserTopic(t *testing.T) {
	client := &fakeClient{}
	w := newTestWaker(client)

	err := w.Wake(context.Background(), "user-1", "task", map[string]any{"task_id": "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.last()
	if msg.topic != "devices/user-1/wake" {
		t.Fatalf("unexpected topic: %q", msg.topic)
	}
	if msg.qos != defaultQoS {
		t.Fatalf("unexpected qos: %d", msg.qos)
	}

	var decoded wakePayload
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if decoded.Command != "start_websocket" || decoded.Reason != "task" || decoded.UserID != "user-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if decoded.Payload["task_id"] != "t1" {
		t.Fatalf("expected task_id to be carried through, got %+v", decoded.Payload)
	}
}

func TestWake_TextMessageReason(t *testing.T) {
	client := &fakeClient{}
	w := newTestWaker(client)

	err := w.Wake(context.Background(), "user-2", "text_message", map[string]any{"pending_messages": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded wakePayload
	_ = json.Unmarshal(client.last().payload, &decoded)
	if decoded.Reason != "text_message" {
		t.Fatalf("expected text_message reason, got %q", decoded.Reason)
	}
}

func TestWake_PropagatesPublishError(t *testing.T) {
	boom := errDummy("publish failed")
	client := &fakeClient{failWith: boom}
	w := newTestWaker(client)

	err := w.Wake(context.Background(), "user-1", "task", nil)
	if err == nil {
		t.Fatal("expected an error when the broker publish fails")
	}
}

type errDummy string

func (e errDummy) Error() string { return string(e) }
