package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/db"
	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
	"github.com/zulandar/perito/internal/sweep"
	"github.com/zulandar/perito/internal/telegraph"
	"github.com/zulandar/perito/internal/window"
)

// 2026-03-10 is a Tuesday; 10:00 UTC is 11:00 in Madrid.
var t0 = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

const (
	ana    = "whatsapp:+34600111222"
	anaRaw = "+34 600 111 222"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeHandoffs struct {
	mu   sync.Mutex
	reqs []messaging.Request
}

func (f *fakeHandoffs) Raise(_ context.Context, req messaging.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeHandoffs) all() []messaging.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messaging.Request(nil), f.reqs...)
}

type stubClassifier struct {
	cls dialogue.Classification
	err error
}

func (s stubClassifier) Classify(context.Context, string) (dialogue.Classification, error) {
	return s.cls, s.err
}

type harness struct {
	clock    *clock
	store    store.Store
	disp     *telegraph.MockDispatcher
	handoffs *fakeHandoffs
	engine   *Engine
}

func newHarness(t *testing.T, mutate func(*Opts)) *harness {
	t.Helper()
	gdb, err := db.Prepare(config.DatabaseConfig{Driver: "sqlite", Path: db.MemoryPath})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	clk := &clock{now: t0}
	st, err := store.NewSQL(context.Background(), gdb, store.Options{
		Now: clk.Now,
		DueAt: sweep.NextDue(sweep.Timing{
			ReminderInterval:    4 * time.Hour,
			MaxReminderAttempts: 3,
			InactivityTimeout:   time.Hour,
			ContinuationWindow:  24 * time.Hour,
			DispatchGrace:       2 * time.Minute,
		}),
	})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := &harness{clock: clk, store: st, disp: telegraph.NewMockDispatcher(), handoffs: &fakeHandoffs{}}
	opts := Opts{
		Store:      st,
		Dispatcher: h.disp,
		Window:     window.Always(),
		Handoffs:   h.handoffs,
		Rules:      dialogue.DefaultRules(),
		AdminOffer: dialogue.AdminOfferGuard{Threshold: 1, MinConfidence: 0.7},
		Timing: Timing{
			ReminderInterval: 4 * time.Hour,
			SnoozeDuration:   6 * time.Hour,
		},
		Now: clk.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine, err = New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) contact(t *testing.T) {
	t.Helper()
	res, err := h.engine.StartContact(context.Background(), anaRaw, Contact{
		ClaimRef:     "SIN-2026-0042",
		InsuredName:  "Ana García",
		Address:      "Calle Mayor 1, Madrid",
		IncidentDate: "02/03/2026",
	})
	if err != nil {
		t.Fatalf("StartContact: %v", err)
	}
	if !res.Sent {
		t.Fatalf("StartContact did not send: %+v", res)
	}
}

func (h *harness) say(t *testing.T, text string) dialogue.Prompt {
	t.Helper()
	h.clock.Advance(time.Minute)
	p, err := h.engine.HandleInbound(context.Background(), anaRaw, text)
	if err != nil {
		t.Fatalf("HandleInbound(%q): %v", text, err)
	}
	return p
}

func (h *harness) get(t *testing.T) *models.Conversation {
	t.Helper()
	c, err := h.store.Get(context.Background(), ana)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return c
}

func assertState(t *testing.T, c *models.Conversation, stage dialogue.Stage, status dialogue.Status) {
	t.Helper()
	if c.Stage != string(stage) || c.Status != string(status) {
		t.Errorf("stage/status = %s/%s, want %s/%s", c.Stage, c.Status, stage, status)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Error("expected error without store")
	}
	h := newHarness(t, nil)
	if _, err := New(Opts{Store: h.store}); err == nil {
		t.Error("expected error without window")
	}
	if _, err := New(Opts{Store: h.store, Window: window.Always(), DispatchReplies: true}); err == nil {
		t.Error("expected error for DispatchReplies without dispatcher")
	}
}

func TestScenarioA_ConfirmAdvancesToAttendee(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)

	p := h.say(t, "sí")
	if p.Key != dialogue.PromptAttendee || p.Kind != dialogue.FixedChoice {
		t.Errorf("reply = %s/%s, want attendee_select/fixed_choice", p.Key, p.Kind)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee)
	if c.NextReminderAt != nil {
		t.Errorf("NextReminderAt = %v, want nil once the claimant answered", c.NextReminderAt)
	}
	if c.LastPromptKey != string(dialogue.PromptAttendee) {
		t.Errorf("LastPromptKey = %q", c.LastPromptKey)
	}
	m, ok := c.LastSystemMessage()
	if !ok || m.PromptKey != string(dialogue.PromptAttendee) || m.Text != p.Text {
		t.Errorf("history tail = %+v", m)
	}
	if c.Field(dialogue.FieldClaimRef) != "SIN-2026-0042" {
		t.Errorf("claim ref lost: %v", c.Fields)
	}
}

func TestScenarioD_AdminOfferDeclinedRestoresPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	attendee := h.say(t, "sí")

	p := h.say(t, "necesito ayuda")
	if p.Key != dialogue.PromptAdminOffer {
		t.Fatalf("reply = %s, want admin_offer", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAdminOffer)
	if c.ReturnStatus != string(dialogue.StatusAwaitingAttendee) {
		t.Errorf("ReturnStatus = %q", c.ReturnStatus)
	}

	p = h.say(t, "no")
	if p.Key != dialogue.PromptAttendee || p.Text != attendee.Text || p.Vars["resent"] != "true" {
		t.Errorf("reply = %+v, want the attendee prompt resent verbatim", p)
	}
	c = h.get(t)
	assertState(t, c, dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee)
	if c.Unparsed != 0 || c.ReturnStage != "" {
		t.Errorf("Unparsed = %d ReturnStage = %q", c.Unparsed, c.ReturnStage)
	}
	if len(h.handoffs.all()) != 0 {
		t.Error("declined offer raised a handoff")
	}
}

func TestAdminOffer_AcceptEscalates(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	h.say(t, "sí")
	h.say(t, "necesito ayuda")

	p := h.say(t, "sí por favor")
	if p.Key != dialogue.PromptHandoff {
		t.Errorf("reply = %s, want handoff", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageEscalated, dialogue.StatusEscalated)
	if c.Field(dialogue.FieldOutcome) != dialogue.OutcomeEscalated {
		t.Errorf("outcome = %q", c.Field(dialogue.FieldOutcome))
	}
	reqs := h.handoffs.all()
	if len(reqs) != 1 {
		t.Fatalf("handoffs = %+v", reqs)
	}
	if reqs[0].Reason != messaging.ReasonAdminOffer || reqs[0].Stage != string(dialogue.StageAttendeeSelect) || reqs[0].Source != "intake" {
		t.Errorf("handoff = %+v", reqs[0])
	}
}

func TestAdminOffer_UnclearAsksAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	h.say(t, "sí")
	h.say(t, "necesito ayuda")

	if p := h.say(t, "quizás"); p.Key != dialogue.PromptYesNo {
		t.Errorf("reply = %s, want yes_no_repeat", p.Key)
	}
	assertState(t, h.get(t), dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAdminOffer)
}

func TestHandleInbound_InvalidIdentity(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.HandleInbound(context.Background(), "whatsapp:hola", "sí")
	if !errors.Is(err, identity.ErrInvalidIdentity) {
		t.Fatalf("err = %v, want ErrInvalidIdentity", err)
	}
	list, err := h.store.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("invalid identity created records: %+v", list)
	}
}

func TestHandleInbound_FirstMessageOpensConversation(t *testing.T) {
	h := newHarness(t, nil)
	p := h.say(t, "hola")
	if p.Key != dialogue.PromptInitial {
		t.Errorf("reply = %s, want initial", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageInitial, dialogue.StatusPending)
	if c.NextReminderAt == nil || !c.NextReminderAt.Equal(t0.Add(time.Minute+4*time.Hour)) {
		t.Errorf("NextReminderAt = %v", c.NextReminderAt)
	}
	if len(c.History) != 2 || c.History[0].Actor != models.ActorUser || c.History[1].Actor != models.ActorSystem {
		t.Errorf("history = %+v", c.History)
	}
}

func TestHandleInbound_FirstMessageIsRead(t *testing.T) {
	h := newHarness(t, nil)
	p := h.say(t, "sí")
	if p.Key != dialogue.PromptAttendee {
		t.Errorf("reply = %s, want attendee_select", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee)
	if c.NextReminderAt != nil {
		t.Errorf("NextReminderAt = %v, want nil outside pending", c.NextReminderAt)
	}
	if c.Unparsed != 0 {
		t.Errorf("Unparsed = %d, want 0", c.Unparsed)
	}
}

func TestHandleInbound_FirstMessageNeverOffersAdmin(t *testing.T) {
	h := newHarness(t, func(o *Opts) {
		o.Classifier = stubClassifier{cls: dialogue.Classification{Intent: dialogue.IntentUnknown, Confidence: 0.1}}
	})
	p := h.say(t, "buenas, ¿quién es?")
	if p.Key != dialogue.PromptInitial {
		t.Errorf("reply = %s, want initial", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageInitial, dialogue.StatusPending)
	if len(h.handoffs.all()) != 0 {
		t.Errorf("handoffs raised on first message: %+v", h.handoffs.all())
	}
}

func TestSnoozeNoticeUsesConfiguredDuration(t *testing.T) {
	h := newHarness(t, func(o *Opts) { o.Timing.SnoozeDuration = 90 * time.Minute })
	h.contact(t)

	p := h.say(t, "ahora no puedo")
	if !strings.Contains(p.Text, "1 hora y 30 minutos") {
		t.Errorf("snooze notice = %q, want the configured 90 minutes", p.Text)
	}
	c := h.get(t)
	if c.SnoozedUntil == nil || !c.SnoozedUntil.Equal(t0.Add(time.Minute+90*time.Minute)) {
		t.Errorf("SnoozedUntil = %v", c.SnoozedUntil)
	}
}

func TestFullFlowToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)

	steps := []struct {
		text   string
		key    dialogue.PromptKey
		stage  dialogue.Stage
		status dialogue.Status
	}{
		{"sí", dialogue.PromptAttendee, dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee},
		{"yo", dialogue.PromptClaimType, dialogue.StageClaimType, dialogue.StatusResponded},
		{"5", dialogue.PromptSeverity, dialogue.StageSeverity, dialogue.StatusAwaitingSeverityPrompt},
		{"1", dialogue.PromptAppointment, dialogue.StageAppointmentSelect, dialogue.StatusAwaitingAppointment},
		{"2", dialogue.PromptDate, dialogue.StageAwaitingDate, dialogue.StatusResponded},
		{"martes por la tarde", dialogue.PromptSummary, dialogue.StageCompleted, dialogue.StatusCompleted},
	}
	for _, s := range steps {
		p := h.say(t, s.text)
		if p.Key != s.key {
			t.Fatalf("%q: reply = %s, want %s", s.text, p.Key, s.key)
		}
		assertState(t, h.get(t), s.stage, s.status)
	}

	c := h.get(t)
	want := map[string]string{
		dialogue.FieldAttendee:        "insured",
		dialogue.FieldClaimType:       "5",
		dialogue.FieldSeverityBand:    "1",
		dialogue.FieldAppointmentMode: dialogue.ModeTelematica,
		dialogue.FieldPreferredDate:   "martes por la tarde",
		dialogue.FieldOutcome:         dialogue.OutcomeCompleted,
	}
	for k, v := range want {
		if got := c.Field(k); got != v {
			t.Errorf("field %s = %q, want %q", k, got, v)
		}
	}
	if c.CompletedAt == nil || c.NextDueAt != nil {
		t.Errorf("CompletedAt = %v NextDueAt = %v", c.CompletedAt, c.NextDueAt)
	}

	if p := h.say(t, "gracias"); p.Key != dialogue.PromptFinished {
		t.Errorf("message after completion: reply = %s, want finished", p.Key)
	}
	assertState(t, h.get(t), dialogue.StageCompleted, dialogue.StatusCompleted)
}

func TestSeverityBandForcesPresencial(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	h.say(t, "sí")
	h.say(t, "yo")
	h.say(t, "5")

	if p := h.say(t, "4"); p.Key != dialogue.PromptPresencialForced {
		t.Errorf("reply = %s, want presencial_forced", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageCompleted, dialogue.StatusCompleted)
	if c.Field(dialogue.FieldOutcome) != dialogue.OutcomePresencialForced ||
		c.Field(dialogue.FieldAppointmentMode) != dialogue.ModePresencial {
		t.Errorf("fields = %v", c.Fields)
	}
}

func TestClaimTypeForcesPresencial(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	h.say(t, "sí")
	h.say(t, "yo")

	p := h.say(t, "15")
	if p.Key != dialogue.PromptDate || !strings.Contains(p.Text, "presencial") {
		t.Errorf("reply = %s %q, want the presencial-only date prompt", p.Key, p.Text)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageAwaitingDate, dialogue.StatusResponded)
	if c.Field(dialogue.FieldAppointmentMode) != dialogue.ModePresencial {
		t.Errorf("appointment mode = %q", c.Field(dialogue.FieldAppointmentMode))
	}
}

func TestWrongPersonCloses(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	if p := h.say(t, "no soy el asegurado"); p.Key != dialogue.PromptWrongPerson {
		t.Errorf("reply = %s, want wrong_person_close", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageCompleted, dialogue.StatusCompleted)
	if c.Field(dialogue.FieldOutcome) != dialogue.OutcomeWrongPerson {
		t.Errorf("outcome = %q", c.Field(dialogue.FieldOutcome))
	}
}

func TestUnmatchedFreeTextRepeatsPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	h.say(t, "sí")
	h.say(t, "yo")
	h.say(t, "5")
	h.say(t, "1")
	h.say(t, "2")

	p := h.say(t, "hola")
	if p.Key != dialogue.PromptDate {
		t.Errorf("reply = %s, want the date prompt again", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageAwaitingDate, dialogue.StatusResponded)
	if c.Unparsed != 1 {
		t.Errorf("Unparsed = %d, want 1", c.Unparsed)
	}
}

func TestSnoozeAndCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)

	p := h.say(t, "ahora no puedo")
	if p.Key != dialogue.PromptSnoozed {
		t.Fatalf("reply = %s, want snoozed", p.Key)
	}
	c := h.get(t)
	assertState(t, c, dialogue.StageInitial, dialogue.StatusSnoozed)
	if c.SnoozedUntil == nil || !c.SnoozedUntil.Equal(t0.Add(time.Minute+6*time.Hour)) {
		t.Errorf("SnoozedUntil = %v", c.SnoozedUntil)
	}
	if c.NextReminderAt != nil {
		t.Errorf("reminder still armed while snoozed")
	}
	if c.LastPromptKey != string(dialogue.PromptInitial) {
		t.Errorf("LastPromptKey = %q, the snooze notice must not replace the outstanding prompt", c.LastPromptKey)
	}

	// Replying before the snooze ends cancels it and reads the reply normally.
	p = h.say(t, "1")
	if p.Key != dialogue.PromptAttendee {
		t.Errorf("reply = %s, want attendee_select", p.Key)
	}
	c = h.get(t)
	assertState(t, c, dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee)
	if c.SnoozedUntil != nil || c.ReturnStage != "" {
		t.Errorf("snooze not cleared: until=%v return=%q", c.SnoozedUntil, c.ReturnStage)
	}
}

func seedContinuation(t *testing.T, h *harness) {
	t.Helper()
	if _, err := h.store.Upsert(context.Background(), ana, func(c *models.Conversation) error {
		asked := t0
		timeout := t0.Add(24 * time.Hour)
		c.Stage = string(dialogue.StageAwaitingDate)
		c.Status = string(dialogue.StatusAwaitingContinuation)
		c.ContinuationAskedAt = &asked
		c.ContinuationTimeoutAt = &timeout
		c.ReturnStage = string(dialogue.StageAwaitingDate)
		c.ReturnStatus = string(dialogue.StatusResponded)
		c.ReturnPromptKind = string(dialogue.FreeText)
		c.ReturnPromptKey = string(dialogue.PromptDate)
		c.ReturnPromptText = "Indique la fecha"
		c.LastPromptKind = string(dialogue.FixedChoice)
		c.LastPromptKey = string(dialogue.PromptContinuation)
		c.LastPromptText = "¿Desea continuar?"
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestContinuation(t *testing.T) {
	t.Run("yes resumes", func(t *testing.T) {
		h := newHarness(t, nil)
		seedContinuation(t, h)

		p := h.say(t, "sí")
		if p.Key != dialogue.PromptDate || p.Text != "Indique la fecha" {
			t.Errorf("reply = %+v, want the saved prompt verbatim", p)
		}
		c := h.get(t)
		assertState(t, c, dialogue.StageAwaitingDate, dialogue.StatusResponded)
		if c.ContinuationAskedAt != nil || c.ContinuationTimeoutAt != nil {
			t.Error("continuation timers not cleared")
		}
	})

	t.Run("no escalates", func(t *testing.T) {
		h := newHarness(t, nil)
		seedContinuation(t, h)

		if p := h.say(t, "no"); p.Key != dialogue.PromptHandoff {
			t.Errorf("reply = %s, want handoff", p.Key)
		}
		assertState(t, h.get(t), dialogue.StageEscalated, dialogue.StatusEscalated)
		reqs := h.handoffs.all()
		if len(reqs) != 1 || reqs[0].Reason != messaging.ReasonNoContinuation || reqs[0].Stage != string(dialogue.StageAwaitingDate) {
			t.Errorf("handoffs = %+v", reqs)
		}
	})

	t.Run("unclear asks again", func(t *testing.T) {
		h := newHarness(t, nil)
		seedContinuation(t, h)

		if p := h.say(t, "el martes"); p.Key != dialogue.PromptYesNo {
			t.Errorf("reply = %s, want yes_no_repeat", p.Key)
		}
		assertState(t, h.get(t), dialogue.StageAwaitingDate, dialogue.StatusAwaitingContinuation)
	})
}

func TestClassifier(t *testing.T) {
	t.Run("confident intent is taken", func(t *testing.T) {
		h := newHarness(t, func(o *Opts) {
			o.Classifier = stubClassifier{cls: dialogue.Classification{Intent: dialogue.IntentConfirm, Confidence: 0.95}}
		})
		h.contact(t)
		if p := h.say(t, "adelante con ello"); p.Key != dialogue.PromptAttendee {
			t.Errorf("reply = %s, want attendee_select", p.Key)
		}
	})

	t.Run("failure falls back to guards", func(t *testing.T) {
		h := newHarness(t, func(o *Opts) {
			o.Classifier = stubClassifier{err: errors.New("quota exceeded")}
		})
		h.contact(t)
		if p := h.say(t, "1"); p.Key != dialogue.PromptAttendee {
			t.Errorf("reply = %s, want attendee_select", p.Key)
		}
	})
}

func TestStartContact(t *testing.T) {
	t.Run("inside window", func(t *testing.T) {
		h := newHarness(t, nil)
		h.contact(t)

		sent, ok := h.disp.LastSent()
		if !ok || sent.To != ana || sent.Prompt.Key != dialogue.PromptInitial {
			t.Fatalf("sent = %+v", sent)
		}
		if !strings.Contains(sent.Prompt.Text, "SIN-2026-0042") || !strings.Contains(sent.Prompt.Text, "Ana García") {
			t.Errorf("initial prompt missing claim data: %q", sent.Prompt.Text)
		}
		c := h.get(t)
		assertState(t, c, dialogue.StageInitial, dialogue.StatusPending)
		if c.NextReminderAt == nil || !c.NextReminderAt.Equal(t0.Add(4*time.Hour)) {
			t.Errorf("NextReminderAt = %v", c.NextReminderAt)
		}
		if len(c.History) != 1 {
			t.Errorf("history = %+v", c.History)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		win := window.MustNew(config.SendWindowConfig{StartHour: 8, EndHour: 21, Timezone: "Europe/Madrid", Days: "*"})
		h := newHarness(t, func(o *Opts) { o.Window = win })
		h.clock.Advance(12 * time.Hour) // 23:00 in Madrid

		res, err := h.engine.StartContact(context.Background(), anaRaw, Contact{ClaimRef: "SIN-1"})
		if err != nil {
			t.Fatalf("StartContact: %v", err)
		}
		if res.Sent || h.disp.SentCount() != 0 {
			t.Error("sent outside the window")
		}
		c := h.get(t)
		want := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC) // 08:00 in Madrid
		if c.NextReminderAt == nil || !c.NextReminderAt.Equal(want) {
			t.Errorf("NextReminderAt = %v, want %v", c.NextReminderAt, want)
		}
		if len(c.History) != 0 {
			t.Errorf("unsent prompt recorded in history: %+v", c.History)
		}
		if c.LastPromptKey != string(dialogue.PromptInitial) || c.LastPromptText == "" {
			t.Errorf("outstanding prompt not stored: %q", c.LastPromptKey)
		}
	})

	t.Run("active conversation", func(t *testing.T) {
		h := newHarness(t, nil)
		h.contact(t)
		_, err := h.engine.StartContact(context.Background(), anaRaw, Contact{ClaimRef: "SIN-2"})
		if !errors.Is(err, ErrActive) {
			t.Errorf("err = %v, want ErrActive", err)
		}
		if h.disp.SentCount() != 1 {
			t.Errorf("SentCount = %d, want 1", h.disp.SentCount())
		}
	})

	t.Run("finished conversation is reopened", func(t *testing.T) {
		h := newHarness(t, nil)
		h.contact(t)
		h.say(t, "3")

		res, err := h.engine.StartContact(context.Background(), anaRaw, Contact{ClaimRef: "SIN-3"})
		if err != nil {
			t.Fatalf("StartContact: %v", err)
		}
		c := res.Conversation
		assertState(t, c, dialogue.StageInitial, dialogue.StatusPending)
		if c.Field(dialogue.FieldOutcome) != "" || c.Field(dialogue.FieldClaimRef) != "SIN-3" {
			t.Errorf("fields = %v", c.Fields)
		}
	})

	t.Run("dispatch failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.disp.FailAll(errors.New("twilio down"))

		res, err := h.engine.StartContact(context.Background(), anaRaw, Contact{ClaimRef: "SIN-4"})
		if err != nil {
			t.Fatalf("StartContact: %v", err)
		}
		if res.Sent || res.Err == nil {
			t.Errorf("result = %+v, want unsent with error", res)
		}
		c := h.get(t)
		if c.DispatchFailures != 1 {
			t.Errorf("DispatchFailures = %d, want 1", c.DispatchFailures)
		}
		if c.NextReminderAt == nil || !c.NextReminderAt.Equal(t0) {
			t.Errorf("NextReminderAt = %v, want immediate retry at %v", c.NextReminderAt, t0)
		}
	})

	t.Run("invalid identity", func(t *testing.T) {
		h := newHarness(t, nil)
		if _, err := h.engine.StartContact(context.Background(), "12", Contact{}); !errors.Is(err, identity.ErrInvalidIdentity) {
			t.Errorf("err = %v, want ErrInvalidIdentity", err)
		}
	})
}

func TestDispatchReplies(t *testing.T) {
	h := newHarness(t, func(o *Opts) { o.DispatchReplies = true })
	h.contact(t)
	p := h.say(t, "sí")

	if h.disp.SentCount() != 2 {
		t.Fatalf("SentCount = %d, want 2", h.disp.SentCount())
	}
	sent, _ := h.disp.LastSent()
	if sent.Prompt.Key != p.Key || sent.Prompt.Text != p.Text {
		t.Errorf("dispatched %+v, returned %+v", sent.Prompt, p)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)
	h.say(t, "sí")
	h.say(t, "yo")

	c, err := h.engine.Reset(context.Background(), anaRaw)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	assertState(t, c, dialogue.StageInitial, dialogue.StatusPending)
	if c.Field(dialogue.FieldClaimRef) != "SIN-2026-0042" || c.Field(dialogue.FieldAttendee) != "" {
		t.Errorf("fields = %v", c.Fields)
	}
	if c.LastPromptKey != string(dialogue.PromptInitial) || c.NextReminderAt == nil {
		t.Errorf("LastPromptKey = %q NextReminderAt = %v", c.LastPromptKey, c.NextReminderAt)
	}

	if _, err := h.engine.Reset(context.Background(), "+34 699 000 000"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Reset unknown: err = %v, want ErrNotFound", err)
	}
}

func TestHandleInbound_ConcurrentSameClaimant(t *testing.T) {
	h := newHarness(t, nil)
	h.contact(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.HandleInbound(context.Background(), anaRaw, "hola"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("HandleInbound: %v", err)
	}

	c := h.get(t)
	if want := 1 + 2*n; len(c.History) != want {
		t.Fatalf("history has %d entries, want %d", len(c.History), want)
	}
	for i := 1; i < len(c.History); i++ {
		if c.History[i].Sequence <= c.History[i-1].Sequence {
			t.Errorf("history sequence not increasing at %d: %d then %d", i, c.History[i-1].Sequence, c.History[i].Sequence)
		}
	}
}
