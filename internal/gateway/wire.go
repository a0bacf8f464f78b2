package gateway

import "encoding/json"

// inboundEnvelope is the union of every client→server frame shape
// recognised by the reader (spec.md §6). Only a subset of fields is
// populated on any given frame; Turns may itself be a JSON-string-encoded
// object (the ESP32 device firmware's convention) or a literal object, so it
// is kept as json.RawMessage and sniffed by parseTurns.
type inboundEnvelope struct {
	Audio        string          `json:"audio,omitempty"`
	Interrupt    bool            `json:"interrupt,omitempty"`
	Text         string          `json:"text,omitempty"`
	InputText    string          `json:"input_text,omitempty"`
	Turns        json.RawMessage `json:"turns,omitempty"`
	TurnComplete *bool           `json:"turn_complete,omitempty"`

	// PendingMessage/PendingTask mirror the flattened top-level fields the
	// device firmware sometimes sends instead of nesting them under turns.
	PendingMessage bool `json:"pending_message,omitempty"`
	PendingTask    bool `json:"pending_task,omitempty"`
}

// turnsPayload is the structured shape carried by a wake-up injection, once
// Turns has been unwrapped (whether it arrived as a string or a literal
// object).
type turnsPayload struct {
	Command         string `json:"command,omitempty"`
	Reason          string `json:"reason,omitempty"`
	PendingMessages bool   `json:"pending_messages,omitempty"`
	PendingTask     bool   `json:"pending_task,omitempty"`
	TaskID          string `json:"task_id,omitempty"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	Info            string `json:"info,omitempty"`
	TimeToExecute   string `json:"time_to_execute,omitempty"`

	// Message/Task cover the plain chat-content shape: a turns object
	// carrying either free text or a task description, sent with
	// turn_complete to drive the model directly (not a wake-up injection).
	Message string          `json:"message,omitempty"`
	Task    json.RawMessage `json:"task,omitempty"`
}

// parseTurns unwraps raw, which may be a JSON string containing an encoded
// object (as ESP32 devices send it) or a literal object. Returns nil,false
// if raw is empty or unparsable as either shape.
func parseTurns(raw json.RawMessage) (*turnsPayload, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var nested turnsPayload
		if err := json.Unmarshal([]byte(asString), &nested); err != nil {
			return nil, false
		}
		return &nested, true
	}

	var payload turnsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

// outboundEnvelope is the union of every server→client frame shape (spec.md
// §6). Exactly one concern is populated per frame; omitempty keeps frames
// minimal.
type outboundEnvelope struct {
	Audio           string `json:"audio,omitempty"`
	Interrupt       bool   `json:"interrupt,omitempty"`
	InputText       string `json:"input_text,omitempty"`
	OutputText      string `json:"output_text,omitempty"`
	EndConversation bool   `json:"end_conversation,omitempty"`
}

func audioFrame(base64PCM string) outboundEnvelope {
	return outboundEnvelope{Audio: base64PCM}
}

func interruptFrame() outboundEnvelope {
	return outboundEnvelope{Interrupt: true}
}

func inputTextFrame(text string) outboundEnvelope {
	return outboundEnvelope{InputText: text}
}

func outputTextFrame(text string) outboundEnvelope {
	return outboundEnvelope{OutputText: text}
}

func endConversationFrame() outboundEnvelope {
	return outboundEnvelope{EndConversation: true}
}
