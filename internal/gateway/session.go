package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/reminderd/reminderd/internal/agent/tool"
	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/gateway/echofilter"
	"github.com/reminderd/reminderd/internal/gateway/playback"
	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/pkg/provider/s2s"
)

// completedSentinel is returned to the model in place of re-running the
// orchestrator for an input it has already fully handled this session
// (spec.md §4.6). Distinct from the orchestrator's own already-processed
// reply: this one never even reaches Think.
const completedSentinel = "[COMPLETED] This request was already fully processed and completed. " +
	"No further action needed. Do not call this function again for this input."

// session is the per-connection state for one accepted WebSocket. It owns
// the scratchpad, the echo filter, the playback manager, and the live model
// session for the duration of one connection.
type session struct {
	gw     *Gateway
	conn   *websocket.Conn
	userID string
	cfg    tool.UserConfig
	logger *slog.Logger

	ctx context.Context

	pad     *scratchpad.Scratchpad
	echo    *echofilter.Filter
	pb      *playback.Manager
	s2sSess s2s.SessionHandle

	mu              sync.Mutex
	processedInputs map[string]struct{}
	lastAudioAt     time.Time
}

// run drives one session end-to-end: session-row bookkeeping, model
// connect, and the three cooperating goroutines. It returns once the
// connection has fully torn down.
func (s *session) run(parent context.Context) error {
	if err := s.gw.Store.CreateSession(parent, s.userID); err != nil {
		return fmt.Errorf("gateway: create session: %w", err)
	}
	if err := s.gw.Store.SetSessionActive(parent, s.userID, true); err != nil {
		return fmt.Errorf("gateway: set session active: %w", err)
	}
	defer func() {
		if err := s.gw.Store.SetSessionActive(context.Background(), s.userID, false); err != nil {
			s.logger.Warn("gateway: failed to mark session inactive", "err", err)
		}
	}()

	s.pad = scratchpad.New()
	s.echo = &echofilter.Filter{}
	s.pb = playback.New(s.sendAudioChunk)

	instructions := s.gw.Instructions
	if s.cfg.Name != "" {
		instructions = fmt.Sprintf("%s The user's name is %s; their timezone is %s.", instructions, s.cfg.Name, s.cfg.Zone)
	}

	sess, err := s.gw.S2S.Connect(parent, s2s.SessionConfig{
		Voice:        s.gw.Voice,
		Instructions: instructions,
		Tools:        toolDefinitions(),
	})
	if err != nil {
		return fmt.Errorf("gateway: connect model session: %w", err)
	}
	s.s2sSess = sess
	defer sess.Close()

	sess.OnToolCall(s.handleToolCall)
	sess.OnError(func(err error) {
		s.logger.Warn("gateway: non-fatal model session error", "err", err)
	})

	eg, ctx := errgroup.WithContext(parent)
	s.ctx = ctx

	audioUp := make(chan []byte, 64)

	eg.Go(func() error { return s.reader(ctx, audioUp) })
	eg.Go(func() error { return s.uplink(ctx, audioUp) })
	eg.Go(func() error { return s.downlink(ctx) })

	if err := eg.Wait(); err != nil && !isNormalTeardown(err) {
		return err
	}
	return nil
}

func isNormalTeardown(err error) bool {
	return errors.Is(err, errs.ErrTransportClosed) || errors.Is(err, context.Canceled)
}

// reader implements the reader task (spec.md §4.6): parses inbound frames
// and either dispatches them synchronously (interrupt, wake-up injections,
// text turns) or forwards audio to audioUp for the uplink task.
func (s *session) reader(ctx context.Context, audioUp chan<- []byte) error {
	defer close(audioUp)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				return errs.ErrTransportClosed
			}
			return fmt.Errorf("gateway: read: %w", err)
		}

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("gateway: malformed envelope", "err", errs.ErrMalformedEnvelope)
			continue
		}

		if env.Interrupt || (env.Text != "" && strings.Contains(strings.ToLower(env.Text), "stop")) {
			s.pb.Interrupt()
			if err := s.s2sSess.Interrupt(); err != nil {
				s.logger.Warn("gateway: model session interrupt failed", "err", err)
			}
			s.sendFrame(interruptFrame())
			continue
		}

		parsed, parsedOK := parseTurns(env.Turns)
		pendingMessages := env.PendingMessage || (parsedOK && (parsed.PendingMessages || parsed.Reason == "text_message"))
		pendingTask := env.PendingTask || (parsedOK && (parsed.PendingTask || parsed.Reason == "task"))

		switch {
		case pendingMessages:
			s.handlePendingMessages(ctx)
		case pendingTask:
			s.handlePendingTask(ctx, parsed)
		case parsedOK && (parsed.Message != "" || len(parsed.Task) > 0):
			content := parsed.Message
			if len(parsed.Task) > 0 {
				content += string(parsed.Task)
			}
			s.deliverUserText(content)
		case env.Text != "" || env.InputText != "":
			text := env.Text
			if text == "" {
				text = env.InputText
			}
			s.deliverUserText(text)
		case env.Audio != "":
			chunk, err := base64.StdEncoding.DecodeString(env.Audio)
			if err != nil {
				s.logger.Warn("gateway: malformed audio frame", "err", err)
				continue
			}
			select {
			case audioUp <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// deliverUserText commits pending audio buffers, appends a user text entry,
// and injects the turn into the live model session.
func (s *session) deliverUserText(text string) {
	if text == "" {
		return
	}
	s.pad.Append(scratchpad.Entry{Source: "user", Kind: scratchpad.KindText, Content: text})
	if err := s.s2sSess.InjectTextContext([]s2s.ContextItem{{Role: "user", Content: text}}); err != nil {
		s.logger.Warn("gateway: inject text context failed", "err", err)
	}
}

// handlePendingMessages implements the pending-message wake-up injection
// (spec.md §4.6): narrate unread messages, then mark them read and clear
// the pending-delivery row. The user's chat id is taken to be their own
// user id — this deployment models one assistant chat per user.
func (s *session) handlePendingMessages(ctx context.Context) {
	s.pad.CommitAudio("user")
	s.pad.CommitAudio("assistant")

	msgs, err := s.gw.Store.ListUnreadMessagesForChat(ctx, s.userID)
	if err != nil {
		s.logger.Warn("gateway: list unread messages failed", "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	lines := make([]string, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("From %s: %s", m.SenderID, m.Content))
		ids = append(ids, m.MessageID)
	}

	instruction := "The user has new incoming messages. Tell them about these messages in a natural, " +
		"helpful way. Do not invent or add any messages; only report what is below.\n\nIncoming messages:\n" +
		strings.Join(lines, "\n")

	s.deliverUserText(instruction)

	if err := s.gw.Store.MarkMessagesRead(ctx, s.userID, ids); err != nil {
		s.logger.Warn("gateway: mark messages read failed", "err", err)
	}
	if err := s.gw.Store.ClearPendingDelivery(ctx, s.userID); err != nil {
		s.logger.Warn("gateway: clear pending delivery failed", "err", err)
	}
}

// handlePendingTask implements the pending-task wake-up injection: hydrate
// the task (from the store, falling back to the envelope's own fields) and
// synthesize a reminder turn.
func (s *session) handlePendingTask(ctx context.Context, parsed *turnsPayload) {
	s.pad.CommitAudio("user")
	s.pad.CommitAudio("assistant")

	var info map[string]string
	var when string

	if parsed != nil && parsed.TaskID != "" {
		t, err := s.gw.Store.GetTask(ctx, s.userID, parsed.TaskID)
		if err == nil {
			info = t.Info
			when = t.TimeToExecute.In(s.cfg.Zone).Format(time.RFC1123)
		}
	}
	if info == nil && parsed != nil {
		info = map[string]string{"title": parsed.Title, "description": parsed.Description, "info": parsed.Info}
		if parsed.TimeToExecute != "" {
			when = parsed.TimeToExecute
		}
	}
	if info == nil {
		return
	}
	if when == "" {
		when = "now"
	}

	title, desc := taskPresentation(info)
	instruction := fmt.Sprintf(
		"It is time for the user to do this task. Tell them about it in a natural, helpful way. "+
			"Do not invent any other tasks.\n\nTask: %s\nDescription: %s\nWhen: %s",
		title, desc, when,
	)
	s.deliverUserText(instruction)
}

// taskPresentation derives a title/description pair from a task's loose
// info map, mirroring the original's title/description/info fallback chain.
func taskPresentation(info map[string]string) (title, description string) {
	title = info["title"]
	if title == "" {
		title = info["info"]
	}
	if title == "" {
		title = "Task"
	}
	description = info["description"]
	if description == "" {
		description = info["info"]
	}
	return title, description
}

// uplink implements the uplink task: drains audioUp and streams chunks to
// the model session.
func (s *session) uplink(ctx context.Context, audioUp <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-audioUp:
			if !ok {
				return nil
			}
			if err := s.s2sSess.SendAudio(chunk); err != nil {
				return fmt.Errorf("gateway: send audio: %w", err)
			}
		}
	}
}

// downlink implements the downlink task: fans in the model's audio and
// transcript streams until both close.
func (s *session) downlink(ctx context.Context) error {
	audioCh := s.s2sSess.Audio()
	transcriptCh := s.s2sSess.Transcripts()

	for audioCh != nil || transcriptCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			s.mu.Lock()
			s.lastAudioAt = time.Now()
			s.mu.Unlock()
			s.pb.Enqueue(chunk)

		case t, ok := <-transcriptCh:
			if !ok {
				transcriptCh = nil
				continue
			}
			s.handleTranscript(t)
		}
	}

	if err := s.s2sSess.Err(); err != nil {
		return fmt.Errorf("gateway: model session ended: %w", err)
	}
	return errs.ErrTransportClosed
}

// handleTranscript routes one transcription fragment to the scratchpad's
// per-source audio buffer, applying the echo filter to user fragments, and
// mirrors it to the client for display.
func (s *session) handleTranscript(t s2s.TranscriptEntry) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	if t.Role == "user" {
		if s.echo.IsEcho(text) {
			return
		}
		s.pad.BufferAudio("user", text)
		s.sendFrame(inputTextFrame(text))
		return
	}

	s.echo.RecordOutput(text)
	s.pad.BufferAudio("assistant", text)
	s.sendFrame(outputTextFrame(text))
}

// handleToolCall implements [s2s.ToolCallHandler]. It must not block for
// longer than necessary: think_and_repeat_output runs the orchestrator
// synchronously (matching the original's synchronous dispatch), but
// end_conversation only acknowledges and hands off the goodbye drain to a
// background goroutine.
func (s *session) handleToolCall(name string, args string) (string, error) {
	switch name {
	case thinkToolName:
		return s.handleThink(args)
	case endToolName:
		go s.beginGoodbyeDrain()
		return "Conversation ended successfully", nil
	default:
		return "", fmt.Errorf("gateway: unknown tool %q", name)
	}
}

func (s *session) handleThink(args string) (string, error) {
	var parsed struct {
		UserInput string `json:"user_input"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return "", fmt.Errorf("gateway: %w: %v", errs.ErrMalformedEnvelope, err)
	}
	if parsed.UserInput == "" {
		return "", nil
	}

	normalized := normalizeInput(parsed.UserInput)

	s.mu.Lock()
	if s.processedInputs == nil {
		s.processedInputs = make(map[string]struct{})
	}
	if _, seen := s.processedInputs[normalized]; seen {
		s.mu.Unlock()
		return completedSentinel, nil
	}
	s.processedInputs[normalized] = struct{}{}
	s.mu.Unlock()

	s.pad.CommitAudio("user")
	s.pad.CommitAudio("assistant")

	s.cfg.Now = time.Now().In(s.cfg.Zone)

	snap := s.pad.Snapshot()
	reply, newEntries, err := s.gw.Orchestrator.Think(s.ctx, parsed.UserInput, snap, s.cfg)
	if err != nil {
		return "", fmt.Errorf("gateway: orchestrator: %w", err)
	}
	for _, e := range newEntries {
		s.pad.Append(e)
	}
	return reply, nil
}

func normalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// beginGoodbyeDrain implements the end-of-conversation drain (spec.md
// §4.6, §5): wait for audio activity to go quiet for
// playback.QuiescenceWindow, drain the playback queue, send the terminal
// frame, and close the connection. Only audio quiescence ends the wait; the
// model's turn-complete signal is not consulted. Bounded by
// playback.DrainCeiling regardless of residual buffered audio.
func (s *session) beginGoodbyeDrain() {
	deadline := time.Now().Add(playback.DrainCeiling)
	const poll = 50 * time.Millisecond

	for time.Now().Before(deadline) {
		s.mu.Lock()
		quiet := time.Since(s.lastAudioAt) > playback.QuiescenceWindow
		s.mu.Unlock()
		if quiet {
			break
		}
		time.Sleep(poll)
	}

	for time.Now().Before(deadline) && s.pb.Busy() {
		time.Sleep(poll)
	}

	s.sendFrame(endConversationFrame())
	_ = s.conn.Close(websocket.StatusNormalClosure, "end_conversation")
}

// sendAudioChunk is the playback.Manager's Send callback: it wraps a raw
// PCM chunk in the audio envelope and writes it to the client.
func (s *session) sendAudioChunk(chunk []byte) error {
	return s.writeFrame(audioFrame(base64.StdEncoding.EncodeToString(chunk)))
}

func (s *session) sendFrame(env outboundEnvelope) {
	if err := s.writeFrame(env); err != nil {
		s.logger.Warn("gateway: write frame failed", "err", err)
	}
}

func (s *session) writeFrame(env outboundEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}
