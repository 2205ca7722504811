// Package call runs the live bridge between a telephone caller and the
// realtime assistant, and settles the call's outcome when it ends.
//
// One Session serves one call. A single loop owns all call state and selects
// over caller frames, model events, finished transcriptions, and watchdog
// signals; everything that happens off-loop (timers, transcription) reports
// back through channels.
package call

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/trattoria-labs/centralino/internal/config"
	"github.com/trattoria-labs/centralino/internal/extract"
	"github.com/trattoria-labs/centralino/internal/menu"
	"github.com/trattoria-labs/centralino/internal/notify"
	"github.com/trattoria-labs/centralino/internal/observe"
	"github.com/trattoria-labs/centralino/internal/order"
	"github.com/trattoria-labs/centralino/internal/realtime"
	"github.com/trattoria-labs/centralino/internal/telephony"
	"github.com/trattoria-labs/centralino/internal/transcribe"
)

// Redirector hands an in-progress call to another number. Implemented by
// [telephony.RestClient].
type Redirector interface {
	Redirect(ctx context.Context, callSID, twiml string) error
}

// Deps bundles the collaborators a Session needs.
type Deps struct {
	Logger      *slog.Logger
	Realtime    *realtime.Client
	Transcriber transcribe.Transcriber
	Extractor   *extract.Extractor
	Store       order.Store
	Notifier    *notify.Notifier
	Redirector  Redirector
	Metrics     *observe.Metrics
}

// Params carries the per-deployment call settings.
type Params struct {
	// Voice and Instructions configure the realtime session.
	Voice        string
	Instructions string

	// Greeting is the exact opening sentence the assistant speaks.
	Greeting string

	// CallerID is the restaurant's number, shown when transferring.
	CallerID string

	// ManagerNumber receives transferred calls.
	ManagerNumber string

	// Location is the restaurant's time zone, used to stamp the current
	// time into the session instructions. Nil means the process zone.
	Location *time.Location

	Timing config.CallConfig
}

type signalKind int

const (
	sigNudge signalKind = iota
	sigTerminate
	sigHangup
)

// Session is the state of one live call. All fields are owned by the run
// loop; external goroutines communicate through signals and transcripts.
type Session struct {
	deps   Deps
	params Params
	leg    *telephony.Leg
	rt     *realtime.Session
	rel    *Relay
	wd     *Watchdog

	signals     chan signalKind
	transcripts chan string
	utterances  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	callSID string
	caller  string

	transferRequested bool
	transferred       bool

	transcript        strings.Builder
	lastAssistantText string

	goodbyeOnce  sync.Once
	goodbyeTimer *time.Timer
}

// Run bridges leg to a fresh realtime session and blocks until the call is
// over and its outcome (order extraction, SMS, transfer alert) is settled.
func Run(ctx context.Context, deps Deps, params Params, leg *telephony.Leg) error {
	params.Timing = params.Timing.WithDefaults()
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		deps:        deps,
		params:      params,
		leg:         leg,
		rel:         NewRelay(),
		signals:     make(chan signalKind, 8),
		transcripts: make(chan string, 8),
		utterances:  make(chan []byte, 8),
		ctx:         sessCtx,
		cancel:      cancel,
	}
	defer cancel()
	return s.run()
}

func (s *Session) run() error {
	started := time.Now()
	s.deps.Metrics.CallsStarted.Add(s.ctx, 1)
	s.deps.Metrics.ActiveCalls.Add(s.ctx, 1)
	defer func() {
		ctx := context.Background()
		s.deps.Metrics.ActiveCalls.Add(ctx, -1)
		s.deps.Metrics.CallDuration.Record(ctx, time.Since(started).Seconds())
	}()

	rt, err := s.deps.Realtime.Connect(s.ctx, realtime.SessionConfig{
		Voice:        s.params.Voice,
		Instructions: s.sessionInstructions(),
	})
	if err != nil {
		s.leg.Close()
		return fmt.Errorf("call: connect realtime: %w", err)
	}
	s.rt = rt

	if err := s.sendGreeting(); err != nil {
		s.deps.Logger.Warn("failed to request greeting", "error", err)
	}

	s.wd = NewWatchdog(s.params.Timing.NudgeAfter, s.params.Timing.TerminateAfter,
		func() { s.post(sigNudge) },
		func() { s.post(sigTerminate) },
	)
	s.wd.Activity()

	go s.transcribeLoop()

	s.loop()

	s.wd.Stop()
	if s.goodbyeTimer != nil {
		s.goodbyeTimer.Stop()
	}
	s.cancel()
	s.rt.Close()
	s.leg.Close()

	s.finish()

	if err := s.leg.Err(); err != nil {
		s.deps.Logger.Debug("caller leg ended with error", "error", err)
	}
	if err := s.rt.Err(); err != nil {
		s.deps.Logger.Debug("realtime session ended with error", "error", err)
	}
	return nil
}

// post delivers a signal to the run loop without blocking; a full queue
// means the loop is already winding down.
func (s *Session) post(sig signalKind) {
	select {
	case s.signals <- sig:
	default:
	}
}

// sessionInstructions stamps the current local time into the configured
// instructions so the assistant can resolve "in 30 minutes" style requests.
func (s *Session) sessionInstructions() string {
	loc := s.params.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now().In(loc).Format("03:04 PM")
	return s.params.Instructions + "\nCurrent Time: " + now +
		". Please keep your responses concise."
}

func (s *Session) sendGreeting() error {
	instruction := fmt.Sprintf("Greet the user with %q", s.params.Greeting)
	if err := s.rt.InjectText("user", instruction); err != nil {
		return err
	}
	return s.rt.CreateResponse()
}

// loop is the heart of the session: it returns when either side hangs up or
// the surrounding context is cancelled.
func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case evt, ok := <-s.leg.Events():
			if !ok {
				return
			}
			if done := s.handleLegEvent(evt); done {
				return
			}

		case evt, ok := <-s.rt.Events():
			if !ok {
				return
			}
			s.handleModelEvent(evt)

		case text := <-s.transcripts:
			s.handleTranscript(text)

		case sig := <-s.signals:
			if done := s.handleSignal(sig); done {
				return
			}
		}
	}
}

func (s *Session) handleLegEvent(evt *telephony.Event) (done bool) {
	switch evt.Event {
	case telephony.EventStart:
		if evt.Start == nil {
			return false
		}
		s.callSID = evt.Start.CallSID
		s.caller = evt.Start.Caller()
		s.rel.ResetPlayback()
		s.deps.Logger.Info("stream started",
			"call_sid", s.callSID, "caller", s.caller)

	case telephony.EventMedia:
		if evt.Media == nil {
			return false
		}
		s.rel.NoteInbound(int64(evt.Media.Timestamp))
		if err := s.rt.AppendAudio(evt.Media.Payload); err != nil {
			s.deps.Logger.Debug("dropping caller audio", "error", err)
		}

	case telephony.EventMark:
		if s.rel.MarkConsumed() {
			s.wd.Activity()
		}

	case telephony.EventDTMF:
		if evt.DTMF != nil && evt.DTMF.Digit == "0" && !s.transferRequested {
			s.transferRequested = true
			s.deps.Logger.Info("transfer requested by keypad", "call_sid", s.callSID)
			s.injectAndRespond("Tell the user: 'I'll connect you with our manager now. Please hold the line.'")
		}

	case telephony.EventStop:
		s.deps.Logger.Info("stream stopped", "call_sid", s.callSID)
		return true
	}
	return false
}

func (s *Session) handleModelEvent(evt realtime.Event) {
	switch evt.Type {
	case realtime.EventAudioDelta:
		if evt.Delta == "" {
			return
		}
		if raw, err := base64.StdEncoding.DecodeString(evt.Delta); err == nil {
			s.rel.AppendUtterance(raw)
		}
		if err := s.leg.SendMedia(evt.Delta); err != nil {
			s.deps.Logger.Debug("dropping assistant audio", "error", err)
			return
		}
		s.rel.NoteOutbound(evt.ItemID)
		if err := s.leg.SendMark(); err != nil {
			s.deps.Logger.Debug("failed to send mark", "error", err)
		}
		s.wd.Activity()

	case realtime.EventAudioDone:
		utterance := s.rel.TakeUtterance()
		if len(utterance) == 0 {
			return
		}
		select {
		case s.utterances <- utterance:
		default:
			s.deps.Logger.Warn("transcription backlog full, dropping utterance",
				"call_sid", s.callSID)
		}

	case realtime.EventSpeechStarted:
		if itemID, elapsedMs, ok := s.rel.BargeIn(); ok {
			if itemID != "" {
				if err := s.rt.Truncate(itemID, elapsedMs); err != nil {
					s.deps.Logger.Debug("truncate failed", "error", err)
				}
			}
			if err := s.leg.SendClear(); err != nil {
				s.deps.Logger.Debug("clear failed", "error", err)
			}
			s.deps.Metrics.BargeIns.Add(s.ctx, 1)
			s.deps.Logger.Debug("caller barged in",
				"item_id", itemID, "heard_ms", elapsedMs)
		}
		s.wd.CallerSpoke()

	case realtime.EventError:
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.deps.Logger.Warn("realtime error event", "message", msg)
	}
}

// transcribeLoop drains captured utterances one at a time, so transcript
// lines land in the order the assistant spoke them even when individual
// transcriptions take uneven time.
func (s *Session) transcribeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case mulaw := <-s.utterances:
			s.transcribeUtterance(mulaw)
		}
	}
}

// transcribeUtterance runs off-loop and posts the text back through the
// transcripts channel.
func (s *Session) transcribeUtterance(mulaw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	started := time.Now()
	text, err := s.deps.Transcriber.Transcribe(ctx, mulaw)
	s.deps.Metrics.TranscriptionDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		s.deps.Logger.Warn("utterance transcription failed", "error", err)
		return
	}
	if text == "" {
		return
	}
	select {
	case s.transcripts <- text:
	case <-s.ctx.Done():
	}
}

func (s *Session) handleTranscript(text string) {
	s.transcript.WriteString("assistant: " + text + "\n")
	s.lastAssistantText = text
	s.wd.Activity()

	if s.transferRequested || IsTransferRequest(text) {
		s.transfer()
		return
	}
	if IsGoodbye(text) {
		s.scheduleHangup()
	}
}

// transfer redirects the call to the manager. The assistant has already
// spoken the hold announcement by the time the transcription arrives here.
func (s *Session) transfer() {
	if s.transferred || s.callSID == "" {
		return
	}
	twiml := telephony.DialTwiML(s.params.CallerID, s.params.ManagerNumber)
	if err := s.deps.Redirector.Redirect(s.ctx, s.callSID, twiml); err != nil {
		s.deps.Logger.Error("call transfer failed", "call_sid", s.callSID, "error", err)
		return
	}
	s.transferred = true
	s.deps.Metrics.CallsTransferred.Add(s.ctx, 1)
	s.deps.Logger.Info("call transferred to manager", "call_sid", s.callSID)
}

// scheduleHangup closes the caller leg after the goodbye linger, giving the
// farewell audio time to play out. Armed at most once per call.
func (s *Session) scheduleHangup() {
	s.goodbyeOnce.Do(func() {
		s.deps.Logger.Info("goodbye detected, winding down", "call_sid", s.callSID)
		s.goodbyeTimer = time.AfterFunc(s.params.Timing.GoodbyeLinger, func() {
			s.post(sigHangup)
		})
	})
}

func (s *Session) handleSignal(sig signalKind) (done bool) {
	switch sig {
	case sigNudge:
		if s.lastAssistantText == "" {
			s.wd.NudgeSkipped()
			return false
		}
		s.deps.Metrics.WatchdogNudges.Add(s.ctx, 1)
		s.deps.Logger.Info("caller silent, repeating last utterance", "call_sid", s.callSID)
		s.injectAndRespond("Tell the user again your last saying: " + s.lastAssistantText)

	case sigTerminate:
		s.deps.Metrics.WatchdogTerminations.Add(s.ctx, 1)
		s.deps.Logger.Info("caller still silent, ending call", "call_sid", s.callSID)
		s.injectAndRespond(`Tell the user like this: "I haven't heard from you in a while, so I'll end our conversation now. Goodbye! Have a great day!"`)

	case sigHangup:
		return true
	}
	return false
}

func (s *Session) injectAndRespond(instruction string) {
	if err := s.rt.InjectText("user", instruction); err != nil {
		s.deps.Logger.Warn("failed to inject instruction", "error", err)
		return
	}
	if err := s.rt.CreateResponse(); err != nil {
		s.deps.Logger.Warn("failed to request response", "error", err)
	}
}

// finish settles the call after both legs are down: a transferred call only
// alerts the manager, everything else goes through order extraction.
func (s *Session) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.transferred {
		if err := s.deps.Notifier.CallTransferred(ctx, s.caller); err != nil {
			s.deps.Logger.Error("transfer alert failed", "error", err)
		} else {
			s.deps.Metrics.RecordSMSSent(ctx, "manager")
		}
		return
	}

	transcript := s.transcript.String()
	if transcript == "" || s.caller == "" {
		return
	}

	started := time.Now()
	res, err := s.deps.Extractor.Extract(ctx, transcript, s.caller)
	s.deps.Metrics.ExtractionDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		s.deps.Logger.Error("order extraction failed", "caller", s.caller, "error", err)
		return
	}
	if !res.IsOrdered {
		s.deps.Logger.Info("no confirmed order", "caller", s.caller)
		return
	}

	lines, totalCents, err := s.deps.Extractor.Price(res)
	if err != nil {
		s.deps.Logger.Warn("some extracted items did not match the menu",
			"caller", s.caller, "error", err)
	}
	if len(lines) == 0 {
		s.deps.Logger.Error("confirmed order had no priceable items", "caller", s.caller)
		return
	}

	o := &order.Order{
		CallSID:      s.callSID,
		CustomerName: res.Name,
		Phone:        res.Phone,
		Items:        toOrderItems(lines),
		Location:     res.Location,
		PickupTime:   res.Time,
		TotalCents:   totalCents,
	}
	mode, err := s.persist(ctx, o, res.IsUpdate)
	if err != nil {
		s.deps.Logger.Error("order persistence failed", "caller", s.caller, "error", err)
		return
	}
	s.deps.Metrics.RecordOrderPersisted(ctx, mode)
	s.deps.Logger.Info("order persisted",
		"caller", s.caller, "mode", mode, "total_cents", totalCents)

	summary := notify.OrderSummary{
		Name:       res.Name,
		Recipient:  s.caller,
		Phone:      res.Phone,
		Foods:      menu.FormatLines(lines),
		Total:      menu.FormatUSD(totalCents),
		Location:   res.Location,
		PickupTime: res.Time,
		Updated:    mode == "update",
	}
	if err := s.deps.Notifier.OrderConfirmed(ctx, summary); err != nil {
		s.deps.Logger.Error("order notification failed", "caller", s.caller, "error", err)
		return
	}
	s.deps.Metrics.RecordSMSSent(ctx, "customer")
	s.deps.Metrics.RecordSMSSent(ctx, "manager")
}

// persist writes the order, preferring an update of today's latest order
// when the caller was amending one. An amendment with nothing to amend
// degrades to a fresh insert.
func (s *Session) persist(ctx context.Context, o *order.Order, isUpdate bool) (mode string, err error) {
	if isUpdate {
		_, err := s.deps.Store.ReplaceLatest(ctx, o)
		if err == nil {
			return "update", nil
		}
		if !errors.Is(err, order.ErrNoPending) {
			return "", err
		}
	}
	if err := s.deps.Store.Insert(ctx, o); err != nil {
		return "", err
	}
	return "insert", nil
}

func toOrderItems(lines []menu.PricedLine) []order.Item {
	items := make([]order.Item, len(lines))
	for i, l := range lines {
		items[i] = order.Item{
			Name:          l.Item.Name,
			Quantity:      l.Quantity,
			SubtotalCents: l.SubtotalCents,
		}
	}
	return items
}
