package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxflow-ai/voxflow/pkg/callctx"
	"github.com/voxflow-ai/voxflow/pkg/flow"
	"github.com/voxflow-ai/voxflow/pkg/orchestrator"
	"github.com/voxflow-ai/voxflow/pkg/telephony"
	"github.com/voxflow-ai/voxflow/pkg/voiceagent"
)

// hangupGrace is how long the session stays up after an end-of-call
// decision so the farewell audio can reach the caller.
const hangupGrace = 5 * time.Second

// DefaultVoices maps conversation language to the synthesis voice.
var DefaultVoices = map[string]string{
	"en": "aura-2-thalia-en",
	"es": "aura-2-celeste-es",
}

// Deps wires a session to the rest of the system.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Telephony    *telephony.Client
	AgentConfig  voiceagent.Config

	// Voices overrides DefaultVoices per language.
	Voices map[string]string

	// Greeting is the opening line the agent speaks when the stream
	// starts. Reconnects never repeat it.
	Greeting string

	// TransferURL is the endpoint serving transfer TwiML. Empty disables
	// live transfers.
	TransferURL string

	// InitCall runs once when the media stream's start frame names the
	// call SID, before the agent session is dialed. The gateway uses it
	// to seed the call context from directory data.
	InitCall func(callSID string)

	// FinishCall receives the final context snapshot after teardown, for
	// memo posting. Runs on the session goroutine; panics are contained.
	FinishCall func(ctx context.Context, final *callctx.Context)

	Log *slog.Logger
}

// Session is one live call: the telephony websocket on one side, the
// voice-agent websocket on the other, and the dialogue engine between.
type Session struct {
	deps    Deps
	callSID string
	log     *slog.Logger

	tw   *websocket.Conn
	twMu sync.Mutex

	agentMu sync.Mutex
	agent   *voiceagent.Conn

	streamSID string
	switching atomic.Bool
	cancel    context.CancelFunc
}

// NewSession wraps an accepted telephony websocket. The call SID may be
// empty; it is then adopted from the stream's start frame.
func NewSession(deps Deps, callSID string, tw *websocket.Conn) *Session {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if callSID != "" {
		log = log.With("call_sid", callSID)
	}
	return &Session{
		deps:    deps,
		callSID: callSID,
		log:     log,
		tw:      tw,
	}
}

// Handle exposes the session to a Tracker.
func (s *Session) Handle() Handle {
	return Handle{
		Cancel: func() {
			if s.cancel != nil {
				s.cancel()
			}
		},
		Hangup: func(reason string) error { return s.Hangup(reason) },
	}
}

// Hangup asks the agent to wrap up and schedules teardown.
func (s *Session) Hangup(reason string) error {
	s.log.Info("hangup requested", "reason", reason)
	if conn := s.agentConn(); conn != nil {
		_ = conn.Send(voiceagent.NewInjectAgentMessage(
			"Apologize briefly and tell the customer the call has to end now, then say goodbye."))
	}
	s.scheduleTeardown()
	return nil
}

// Run pumps both sockets until the caller hangs up, the flow completes,
// or the context is canceled. It blocks for the life of the call and
// always tears the call down before returning.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer s.cleanup()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.keepAliveLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.agentLoop(ctx)
	}()

	s.telephonyLoop(ctx)

	cancel()
	if conn := s.agentConn(); conn != nil {
		conn.Close()
	}
	s.tw.Close()
	wg.Wait()
}

// telephonyLoop consumes the media stream: start dials the agent, media
// feeds it caller audio, stop ends the call.
func (s *Session) telephonyLoop(ctx context.Context) {
	for {
		_, data, err := s.tw.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("telephony stream closed", "error", err)
			}
			return
		}
		frame, err := telephony.ParseFrame(data)
		if err != nil {
			s.log.Warn("bad telephony frame", "error", err)
			continue
		}

		switch frame.Event {
		case telephony.EventStart:
			if frame.Start != nil {
				s.streamSID = frame.Start.StreamSID
				if s.callSID == "" && frame.Start.CallSID != "" {
					s.callSID = frame.Start.CallSID
					s.log = s.log.With("call_sid", s.callSID)
				}
			}
			s.log.Info("media stream started", "stream_sid", s.streamSID)
			if s.deps.InitCall != nil {
				s.deps.InitCall(s.callSID)
			}
			lang := s.language()
			if err := s.connectAgent(ctx, lang, s.deps.Greeting); err != nil {
				s.log.Error("agent connect failed", "error", err)
				return
			}

		case telephony.EventMedia:
			if s.switching.Load() {
				continue
			}
			conn := s.agentConn()
			if conn == nil {
				continue
			}
			audio, err := frame.Audio()
			if err != nil {
				s.log.Warn("bad media payload", "error", err)
				continue
			}
			if err := conn.SendAudio(audio); err != nil {
				s.log.Warn("agent audio write failed", "error", err)
			}

		case telephony.EventStop:
			s.log.Info("media stream stopped")
			return
		}
	}
}

// keepAliveLoop holds the agent socket open through long silences.
func (s *Session) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(voiceagent.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if conn := s.agentConn(); conn != nil {
				if err := conn.Send(voiceagent.NewKeepAlive()); err != nil {
					s.log.Debug("keepalive failed", "error", err)
				}
			}
		}
	}
}

// agentLoop consumes agent output. A read error on a connection that has
// been replaced by a language switch resumes on the new connection.
func (s *Session) agentLoop(ctx context.Context) {
	for ctx.Err() == nil {
		conn := s.agentConn()
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		ev, audio, err := conn.Read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.switching.Load() || s.agentConn() != conn {
				continue
			}
			s.log.Info("agent stream closed", "error", err)
			s.scheduleTeardown()
			return
		}
		if audio != nil {
			s.sendTelephony(telephony.MediaMessage(s.streamSID, audio))
			continue
		}
		if ev != nil {
			s.handleEvent(ctx, conn, *ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, conn *voiceagent.Conn, ev voiceagent.Event) {
	switch ev.Type {
	case voiceagent.EventUserStartedSpeaking:
		// Barge-in: flush any queued agent audio on the caller's leg.
		s.sendTelephony(telephony.ClearMessage(s.streamSID))

	case voiceagent.EventConversationText:
		s.deps.Orchestrator.Store().AppendTranscript(s.callSID, ev.Role, ev.Content)
		if ev.Role == callctx.RoleUser {
			s.processTurn(ctx, conn, ev.Content)
		}

	case voiceagent.EventFunctionCall:
		for _, fc := range ev.Functions {
			s.handleFunction(ctx, conn, fc)
		}

	case voiceagent.EventError:
		s.log.Error("agent error", "code", ev.Code, "description", ev.Description)

	default:
		s.log.Debug("agent event", "type", ev.Type)
	}
}

// processTurn runs the dialogue engine for one user utterance and pushes
// new instructions to the agent when the node changes.
func (s *Session) processTurn(ctx context.Context, conn *voiceagent.Conn, userInput string) {
	node := s.deps.Orchestrator.Store().CurrentNode(s.callSID)
	res := s.deps.Orchestrator.Process(ctx, s.callSID, node, userInput)

	if res.NextNode == flow.End {
		s.log.Info("flow complete")
		s.scheduleTeardown()
		return
	}
	if res.ShouldUpdateAgent {
		s.pushPrompt(conn, res.Prompt)
		if err := conn.Send(voiceagent.NewInjectAgentMessage("Please continue with the next step.")); err != nil {
			s.log.Warn("inject failed", "error", err)
		}
	}
}

// pushPrompt replaces the agent's instructions with the master prompt
// plus the current node's rendered step.
func (s *Session) pushPrompt(conn *voiceagent.Conn, nodePrompt string) {
	prompt := s.deps.Orchestrator.MasterPrompt(s.callSID)
	if nodePrompt != "" {
		prompt += "\n\n## CURRENT STEP\n" + nodePrompt
	}
	if err := conn.Send(voiceagent.NewUpdatePrompt(prompt)); err != nil {
		s.log.Warn("prompt update failed", "error", err)
	}
}

// respond answers a function call. The agent pauses until the response
// arrives, so write failures are logged rather than ending the turn.
func (s *Session) respond(conn *voiceagent.Conn, fc voiceagent.FunctionCall, content string) {
	if err := conn.Send(voiceagent.NewFunctionCallResponse(fc.ID, fc.Name, content)); err != nil {
		s.log.Warn("function response failed", "name", fc.Name, "id", fc.ID, "error", err)
	}
}

func (s *Session) handleFunction(ctx context.Context, conn *voiceagent.Conn, fc voiceagent.FunctionCall) {
	s.log.Info("function call", "name", fc.Name, "id", fc.ID)
	args, err := fc.Args()
	if err != nil {
		s.log.Warn("bad function arguments", "name", fc.Name, "error", err)
		s.respond(conn, fc, "Could not read the function arguments. Continue the conversation.")
		return
	}

	switch fc.Name {
	case voiceagent.FuncProcessInput:
		s.respond(conn, fc, s.handleProcessInput(ctx, conn, voiceagent.StringArg(args, "user_input")))
	case voiceagent.FuncVerifyDOB:
		s.respond(conn, fc, s.handleVerifyDOB(voiceagent.StringArg(args, "parsed_dob")))
	case voiceagent.FuncSwitchLanguage:
		s.handleSwitchLanguage(ctx, conn, fc, voiceagent.StringArg(args, "language"))
	case voiceagent.FuncTransfer:
		s.respond(conn, fc, s.handleTransfer(voiceagent.StringArg(args, "reason")))
	case voiceagent.FuncEndCall:
		reason := voiceagent.StringArg(args, "reason")
		s.log.Info("agent ending call", "reason", reason)
		s.respond(conn, fc, "Say a brief goodbye to the customer.")
		s.scheduleTeardown()
	default:
		s.log.Warn("unknown function", "name", fc.Name)
		s.respond(conn, fc, "Unknown function. Continue the conversation.")
	}
}

func (s *Session) handleProcessInput(ctx context.Context, conn *voiceagent.Conn, userInput string) string {
	node := s.deps.Orchestrator.Store().CurrentNode(s.callSID)
	res := s.deps.Orchestrator.Process(ctx, s.callSID, node, userInput)

	if res.NextNode == flow.End {
		s.scheduleTeardown()
		return "The conversation is complete. Say goodbye to the customer."
	}
	if res.ShouldUpdateAgent {
		s.pushPrompt(conn, res.Prompt)
		if err := conn.Send(voiceagent.NewInjectAgentMessage("Please continue with the next step.")); err != nil {
			s.log.Warn("inject failed", "error", err)
		}
		return "Instructions updated. Continue with the new step."
	}
	return "Continue with your current task."
}

// handleVerifyDOB compares the spoken date of birth against the record
// on file and tracks how many attempts have been made.
func (s *Session) handleVerifyDOB(parsed string) string {
	store := s.deps.Orchestrator.Store()
	attempts := store.IncrementCounter(s.callSID, "dob_attempts")

	snap, ok := store.Get(s.callSID)
	if !ok {
		return "Unable to verify right now. Continue the conversation."
	}
	onFile := snap.Seed.DOB

	if onFile != "" && orchestrator.NormalizeDOB(parsed) == orchestrator.NormalizeDOB(onFile) {
		store.Update(s.callSID, map[string]any{
			"dob_verified": true,
			"dob_correct":  true,
		})
		s.log.Info("dob verified", "attempts", attempts)
		return "Date of birth verified successfully. Continue with the conversation."
	}

	store.Update(s.callSID, map[string]any{
		"dob_incorrect": true,
		"dob_mismatch":  true,
	})
	s.log.Info("dob mismatch", "attempts", attempts)
	if attempts >= 2 {
		return "That does not match our records. Let the customer know you will transfer them to an agent who can help."
	}
	return "That does not match our records. Ask the customer to repeat their date of birth."
}

// handleSwitchLanguage tears down the agent session and reopens it in
// the target language with freshly rendered prompts. Caller audio during
// the gap is dropped, not buffered.
func (s *Session) handleSwitchLanguage(ctx context.Context, conn *voiceagent.Conn, fc voiceagent.FunctionCall, lang string) {
	if lang != "en" && lang != "es" {
		s.respond(conn, fc, "Unsupported language. Continue in the current language.")
		return
	}
	if lang == s.language() {
		s.respond(conn, fc, "Already speaking that language. Continue the conversation.")
		return
	}

	s.log.Info("switching language", "to", lang)
	s.respond(conn, fc, "Switching language now.")

	s.switching.Store(true)
	defer s.switching.Store(false)

	s.deps.Orchestrator.Store().SetLanguage(s.callSID, lang)
	conn.Close()

	if err := s.connectAgent(ctx, lang, ""); err != nil {
		s.log.Error("language switch reconnect failed", "error", err)
		s.scheduleTeardown()
		return
	}
	if next := s.agentConn(); next != nil {
		_ = next.Send(voiceagent.NewInjectAgentMessage("Continue with your current task."))
	}
}

func (s *Session) handleTransfer(reason string) string {
	store := s.deps.Orchestrator.Store()
	store.Update(s.callSID, map[string]any{
		"transfer_requested": true,
		"transfer_reason":    reason,
	})
	s.log.Info("transfer requested", "reason", reason)

	if s.deps.Telephony == nil || s.deps.TransferURL == "" {
		return "Transfers are not available right now. Apologize and offer to have someone call back."
	}
	if err := s.deps.Telephony.Redirect(context.Background(), s.callSID, s.deps.TransferURL); err != nil {
		s.log.Error("transfer redirect failed", "error", err)
		return "The transfer could not be completed. Apologize and offer to have someone call back."
	}
	return "Tell the customer to stay on the line while they are transferred."
}

// connectAgent dials a fresh agent session with the call's prompts.
func (s *Session) connectAgent(ctx context.Context, lang, greeting string) error {
	orch := s.deps.Orchestrator
	node := orch.Store().CurrentNode(s.callSID)
	prompt := orch.MasterPrompt(s.callSID)
	if step := orch.RenderedPrompt(s.callSID, node); step != "" {
		prompt += "\n\n## CURRENT STEP\n" + step
	}

	conn, err := voiceagent.Dial(ctx, s.deps.AgentConfig, voiceagent.NewSettings(voiceagent.SessionConfig{
		Language:     lang,
		MasterPrompt: prompt,
		Greeting:     greeting,
		Voice:        s.voice(lang),
	}))
	if err != nil {
		return fmt.Errorf("connect agent: %w", err)
	}
	s.setAgent(conn)
	return nil
}

// scheduleTeardown ends the session after a grace period so farewell
// audio can flush.
func (s *Session) scheduleTeardown() {
	time.AfterFunc(hangupGrace, func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.tw.Close()
	})
}

// cleanup runs the teardown ladder. Each rung is isolated so one failure
// cannot strand the rest.
func (s *Session) cleanup() {
	s.step("close agent", func() {
		if conn := s.agentConn(); conn != nil {
			conn.Close()
		}
	})

	var final *callctx.Context
	s.step("end call", func() {
		final, _ = s.deps.Orchestrator.EndCall(s.callSID)
	})

	s.step("finish call", func() {
		if final != nil && s.deps.FinishCall != nil {
			s.deps.FinishCall(context.Background(), final)
		}
	})

	s.log.Info("session closed")
}

func (s *Session) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("teardown step panicked", "step", name, "panic", r)
		}
	}()
	fn()
}

func (s *Session) sendTelephony(msg []byte) {
	s.twMu.Lock()
	defer s.twMu.Unlock()
	if err := s.tw.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.log.Debug("telephony write failed", "error", err)
	}
}

func (s *Session) agentConn() *voiceagent.Conn {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.agent
}

func (s *Session) setAgent(conn *voiceagent.Conn) {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	s.agent = conn
}

func (s *Session) language() string {
	if snap, ok := s.deps.Orchestrator.Store().Get(s.callSID); ok && snap.Language != "" {
		return snap.Language
	}
	return "en"
}

func (s *Session) voice(lang string) string {
	if v, ok := s.deps.Voices[lang]; ok {
		return v
	}
	if v, ok := DefaultVoices[lang]; ok {
		return v
	}
	return DefaultVoices["en"]
}
