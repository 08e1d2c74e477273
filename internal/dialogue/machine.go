package dialogue

import (
	"strconv"
)

// Classification is an NLU reading of a reply.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Rules carries the configurable cutoffs the transition function consults.
type Rules struct {
	PresencialClaimTypes    []int
	PresencialSeverityBands []int
	MinConfidence           float64
}

// DefaultRules returns the stock cutoffs.
func DefaultRules() Rules {
	return Rules{
		PresencialClaimTypes:    []int{14, 15, 16, 17, 18},
		PresencialSeverityBands: []int{3, 4, 5},
		MinConfidence:           0.7,
	}
}

// Input is everything the transition function reads.
type Input struct {
	Stage          Stage
	Text           string
	Classification Classification
}

// Result is the outcome of one transition. When Matched is false the stage
// is unchanged and Prompt re-issues the stage's own prompt.
type Result struct {
	Matched    bool
	Intent     Intent
	Stage      Stage
	Status     Status
	Updates    map[string]string
	PromptKind PromptKind
	Prompt     PromptKey
	Snooze     bool
}

// edge is the effect of taking a guard in a stage.
type edge struct {
	to     Stage
	prompt PromptKey
}

var edges = map[Stage]map[Intent]edge{
	StageInitial: {
		IntentConfirm:     {StageAttendeeSelect, PromptAttendee},
		IntentCorrection:  {StageAwaitingCorrections, PromptAskCorrections},
		IntentWrongPerson: {StageCompleted, PromptWrongPerson},
	},
	StageAwaitingCorrections: {
		IntentDetails: {StageConfirmingCorrections, PromptConfirmCorrections},
	},
	StageConfirmingCorrections: {
		IntentConfirm: {StageAttendeeSelect, PromptAttendee},
		IntentReject:  {StageAwaitingCorrections, PromptAskCorrections},
	},
	StageAttendeeSelect: {
		IntentSelf:  {StageClaimType, PromptClaimType},
		IntentOther: {StageOtherPersonDetails, PromptOtherPerson},
	},
	StageOtherPersonDetails: {
		IntentDetails: {StageClaimType, PromptClaimType},
	},
	StageClaimType: {
		IntentClaimType: {StageSeverity, PromptSeverity},
	},
	StageSeverity: {
		IntentSeverity: {StageAppointmentSelect, PromptAppointment},
	},
	StageAppointmentSelect: {
		IntentPresencial: {StageAwaitingDate, PromptDate},
		IntentTelematica: {StageAwaitingDate, PromptDate},
	},
	StageAwaitingDate: {
		IntentDate: {StageCompleted, PromptSummary},
	},
}

// stageStatus is the status a conversation holds once it reaches a stage.
var stageStatus = map[Stage]Status{
	StageInitial:               StatusPending,
	StageAwaitingCorrections:   StatusResponded,
	StageConfirmingCorrections: StatusAwaitingCorrectionConfirmation,
	StageAttendeeSelect:        StatusAwaitingAttendee,
	StageOtherPersonDetails:    StatusResponded,
	StageClaimType:             StatusResponded,
	StageSeverity:              StatusAwaitingSeverityPrompt,
	StageAppointmentSelect:     StatusAwaitingAppointment,
	StageAwaitingDate:          StatusResponded,
	StageCompleted:             StatusCompleted,
	StageEscalated:             StatusEscalated,
}

var stagePrompt = map[Stage]PromptKey{
	StageInitial:               PromptInitial,
	StageAwaitingCorrections:   PromptAskCorrections,
	StageConfirmingCorrections: PromptConfirmCorrections,
	StageAttendeeSelect:        PromptAttendee,
	StageOtherPersonDetails:    PromptOtherPerson,
	StageClaimType:             PromptClaimType,
	StageSeverity:              PromptSeverity,
	StageAppointmentSelect:     PromptAppointment,
	StageAwaitingDate:          PromptDate,
	StageCompleted:             PromptFinished,
	StageEscalated:             PromptFinished,
}

// StatusFor returns the status a conversation holds at stage.
func StatusFor(stage Stage) Status {
	return stageStatus[stage]
}

// PromptFor returns the stage's own prompt.
func PromptFor(stage Stage) PromptKey {
	return stagePrompt[stage]
}

// KindFor returns the kind of answer the stage's prompt expects.
func KindFor(stage Stage) PromptKind {
	switch stage {
	case StageAwaitingCorrections, StageOtherPersonDetails, StageAwaitingDate, StageCompleted, StageEscalated:
		return FreeText
	}
	return FixedChoice
}

// Transition computes the next step of the dialogue. It performs no I/O and
// returns the same Result for the same Input and Rules.
func Transition(in Input, rules Rules) Result {
	intent, fields, ok := Match(in.Stage, in.Text, in.Classification, rules.MinConfidence)
	if !ok {
		return Result{
			Stage:      in.Stage,
			PromptKind: KindFor(in.Stage),
			Prompt:     PromptFor(in.Stage),
		}
	}

	if in.Stage == StageInitial && intent == IntentBusy {
		return Result{
			Matched:    true,
			Intent:     intent,
			Stage:      in.Stage,
			Status:     StatusSnoozed,
			PromptKind: KindFor(in.Stage),
			Prompt:     PromptSnoozed,
			Snooze:     true,
		}
	}

	e, ok := edges[in.Stage][intent]
	if !ok {
		return Result{
			Stage:      in.Stage,
			PromptKind: KindFor(in.Stage),
			Prompt:     PromptFor(in.Stage),
		}
	}

	updates := make(map[string]string, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}

	switch intent {
	case IntentWrongPerson:
		updates[FieldOutcome] = OutcomeWrongPerson
	case IntentSelf:
		updates[FieldAttendee] = "insured"
	case IntentOther:
		updates[FieldAttendee] = "other"
	case IntentPresencial:
		updates[FieldAppointmentMode] = ModePresencial
	case IntentTelematica:
		updates[FieldAppointmentMode] = ModeTelematica
	case IntentDate:
		updates[FieldOutcome] = OutcomeCompleted
	case IntentClaimType:
		if code, err := strconv.Atoi(updates[FieldClaimType]); err == nil && containsInt(rules.PresencialClaimTypes, code) {
			updates[FieldAppointmentMode] = ModePresencial
			e = edge{StageAwaitingDate, PromptDate}
		}
	case IntentSeverity:
		if band, err := strconv.Atoi(updates[FieldSeverityBand]); err == nil && containsInt(rules.PresencialSeverityBands, band) {
			updates[FieldAppointmentMode] = ModePresencial
			updates[FieldOutcome] = OutcomePresencialForced
			e = edge{StageCompleted, PromptPresencialForced}
		}
	}

	return Result{
		Matched:    true,
		Intent:     intent,
		Stage:      e.to,
		Status:     StatusFor(e.to),
		Updates:    updates,
		PromptKind: KindFor(e.to),
		Prompt:     e.prompt,
	}
}

func containsInt(vs []int, v int) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
