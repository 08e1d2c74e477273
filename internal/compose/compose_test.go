package compose

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/perito/internal/dialogue"
)

func TestRender_AllKnownKeys(t *testing.T) {
	keys := []dialogue.PromptKey{
		dialogue.PromptInitial, dialogue.PromptAskCorrections, dialogue.PromptConfirmCorrections,
		dialogue.PromptAttendee, dialogue.PromptOtherPerson, dialogue.PromptClaimType,
		dialogue.PromptSeverity, dialogue.PromptAppointment, dialogue.PromptDate,
		dialogue.PromptSummary, dialogue.PromptPresencialForced, dialogue.PromptWrongPerson,
		dialogue.PromptSnoozed, dialogue.PromptAdminOffer, dialogue.PromptYesNo,
		dialogue.PromptHandoff, dialogue.PromptEscalation, dialogue.PromptContinuation,
		dialogue.PromptReminder, dialogue.PromptFinished,
	}
	for _, k := range keys {
		text, err := Render(Request{Key: k})
		if err != nil {
			t.Errorf("Render(%q) error: %v", k, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			t.Errorf("Render(%q) returned empty text", k)
		}
	}
}

func TestRender_UnknownKey(t *testing.T) {
	if _, err := Render(Request{Key: "nope"}); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestRender_InitialIncludesClaimData(t *testing.T) {
	text, _ := Render(Request{Key: dialogue.PromptInitial, Fields: map[string]string{
		dialogue.FieldClaimRef:     "SIN-2026-001",
		dialogue.FieldInsuredName:  "Ana Ruiz",
		dialogue.FieldAddress:      "Calle Mayor 5",
		dialogue.FieldIncidentDate: "12/03/2026",
	}})
	for _, want := range []string{"SIN-2026-001", "Ana Ruiz", "Calle Mayor 5", "12/03/2026", "No soy el asegurado"} {
		if !strings.Contains(text, want) {
			t.Errorf("initial prompt missing %q:\n%s", want, text)
		}
	}
}

func TestRender_ClaimMenuListsEighteen(t *testing.T) {
	text, _ := Render(Request{Key: dialogue.PromptClaimType})
	if !strings.Contains(text, "18. Otros") {
		t.Errorf("claim menu missing entry 18:\n%s", text)
	}
}

func TestRender_Summary(t *testing.T) {
	text, _ := Render(Request{Key: dialogue.PromptSummary, Fields: map[string]string{
		dialogue.FieldClaimType:       "5",
		dialogue.FieldClaimTypeLabel:  "Daños por agua",
		dialogue.FieldSeverityBand:    "2",
		dialogue.FieldAppointmentMode: dialogue.ModeTelematica,
		dialogue.FieldPreferredDate:   "martes por la tarde",
	}})
	for _, want := range []string{"Opción 5 (Daños por agua)", "Tramo 2", "Telemática", "martes por la tarde"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestRender_ReminderToneByAttempt(t *testing.T) {
	first, _ := Render(Request{Key: dialogue.PromptReminder, Attempt: 1, Pending: "¿Son correctos?"})
	last, _ := Render(Request{Key: dialogue.PromptReminder, Attempt: 3})
	if first == last {
		t.Error("first and final reminders should differ")
	}
	if !strings.HasSuffix(first, "¿Son correctos?") {
		t.Errorf("reminder should repeat the pending prompt:\n%s", first)
	}
	if !strings.Contains(last, "Último aviso") {
		t.Errorf("final reminder = %q", last)
	}
}

func TestCatalog_Compose(t *testing.T) {
	p, err := Catalog{}.Compose(context.Background(), Request{
		Key:     dialogue.PromptReminder,
		Kind:    dialogue.FixedChoice,
		Attempt: 2,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if p.Kind != dialogue.FixedChoice || p.Key != dialogue.PromptReminder {
		t.Errorf("Prompt = %+v", p)
	}
	if p.Vars["attempt"] != "2" {
		t.Errorf("Vars[attempt] = %q, want 2", p.Vars["attempt"])
	}
}

type stubComposer struct {
	p   dialogue.Prompt
	err error
}

func (s stubComposer) Compose(context.Context, Request) (dialogue.Prompt, error) {
	return s.p, s.err
}

func TestWithFallback(t *testing.T) {
	req := Request{Key: dialogue.PromptYesNo, Kind: dialogue.FixedChoice}
	catalog, _ := Render(req)

	tests := []struct {
		name string
		c    Composer
		want string
	}{
		{"nil composer", nil, catalog},
		{"composer error", stubComposer{err: errors.New("timeout")}, catalog},
		{"empty text", stubComposer{p: dialogue.Prompt{Key: req.Key}}, catalog},
		{"composer wins", stubComposer{p: dialogue.Prompt{Key: req.Key, Text: "¿Sí o no?"}}, "¿Sí o no?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithFallback(context.Background(), tt.c, req); got.Text != tt.want {
				t.Errorf("Text = %q, want %q", got.Text, tt.want)
			}
		})
	}

	if p := WithFallback(context.Background(), nil, Request{Key: "nope", Kind: dialogue.FreeText}); p.Text != "" || p.Key != "nope" {
		t.Errorf("unknown key = %+v, want empty text", p)
	}
}

func TestRender_SnoozeAnnouncesDuration(t *testing.T) {
	tests := []struct {
		snooze time.Duration
		want   string
	}{
		{0, "6 horas"},
		{time.Hour, "1 hora."},
		{90 * time.Minute, "1 hora y 30 minutos"},
		{45 * time.Minute, "45 minutos"},
		{2*time.Hour + time.Minute, "2 horas y 1 minuto"},
	}
	for _, tt := range tests {
		text, err := Render(Request{Key: dialogue.PromptSnoozed, Snooze: tt.snooze})
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if !strings.Contains(text, tt.want) {
			t.Errorf("snooze %v: text = %q, want %q", tt.snooze, text, tt.want)
		}
	}
}
