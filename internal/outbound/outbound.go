// Package outbound implements the device-wake half of Outbound Channels
// (C8): a one-shot control-plane publish over MQTT to a user's edge device,
// telling it to open a new Session Gateway connection.
//
// Grounded on original_source/app/iot_hub_mqtt.py's send_to_device: device
// wake there is a Cloud-to-Device message carrying a JSON payload. This
// package uses MQTT rather than IoT Hub's proprietary C2D transport (no
// pack repo carries an Azure IoT dependency; eclipse/paho.mqtt.golang is
// named, not grounded, per the out-of-pack rule), publishing to a
// per-device topic instead of a per-device C2D queue.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// defaultQoS is "at least once" delivery: a dropped wake means a user never
// learns their reminder fired, which is worse than an occasional duplicate
// start_websocket command (the gateway and device both treat repeated wakes
// idempotently).
const defaultQoS = 1

const publishTimeout = 5 * time.Second

// wakePayload is the wire shape published to devices/{user_id}/wake
// (spec.md §4.7, §4.8).
type wakePayload struct {
	Command string         `json:"command"`
	Reason  string         `json:"reason"`
	UserID  string         `json:"user_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Option is a functional option for configuring a [DeviceWaker].
type Option func(*DeviceWaker)

// WithTopicPrefix overrides the default "devices" topic prefix.
func WithTopicPrefix(prefix string) Option {
	return func(w *DeviceWaker) { w.topicPrefix = prefix }
}

// DeviceWaker publishes device-wake control messages over MQTT. Safe for
// concurrent use; the underlying paho client multiplexes publishes over one
// connection.
type DeviceWaker struct {
	client      mqtt.Client
	topicPrefix string
	logger      *slog.Logger
}

// New connects to the MQTT broker at brokerURL (e.g. "tcp://localhost:1883")
// and returns a ready DeviceWaker.
func New(brokerURL, clientID string, logger *slog.Logger, opts ...Option) (*DeviceWaker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan error, 1)
	connOpts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("outbound: mqtt connection lost", "err", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Info("outbound: mqtt connected", "broker", brokerURL)
		})

	client := mqtt.NewClient(connOpts)
	token := client.Connect()
	go func() { done <- func() error { token.Wait(); return token.Error() }() }()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("outbound: mqtt connect: %w", err)
	}

	w := &DeviceWaker{client: client, topicPrefix: "devices", logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Wake publishes a start_websocket control message to the user's device
// topic. payload carries the reason-specific fields the gateway's wake-up
// injection handler expects (pending_task/pending_messages, task fields, or
// message_id — see spec.md §4.6, §4.7).
func (w *DeviceWaker) Wake(ctx context.Context, userID, reason string, payload map[string]any) error {
	body, err := json.Marshal(wakePayload{
		Command: "start_websocket",
		Reason:  reason,
		UserID:  userID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("outbound: marshal wake payload: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/wake", w.topicPrefix, userID)
	token := w.client.Publish(topic, defaultQoS, false, body)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitToken(token):
	case <-time.After(publishTimeout):
		return fmt.Errorf("outbound: publish to %s timed out after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("outbound: publish to %s: %w", topic, err)
	}
	return nil
}

func waitToken(token mqtt.Token) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	return done
}

// Close disconnects from the broker, waiting up to 250ms to flush
// in-flight publishes.
func (w *DeviceWaker) Close() {
	w.client.Disconnect(250)
}
