// Package dialogue holds the claim-intake script: the stages and statuses a
// conversation moves through, the guard table that reads replies, and the
// pure transition function that advances the dialogue.
package dialogue

// Stage is a position in the intake script.
type Stage string

const (
	StageInitial               Stage = "initial"
	StageAwaitingCorrections   Stage = "awaiting_corrections"
	StageConfirmingCorrections Stage = "confirming_corrections"
	StageAttendeeSelect        Stage = "attendee_select"
	StageOtherPersonDetails    Stage = "other_person_details"
	StageClaimType             Stage = "claim_type"
	StageSeverity              Stage = "severity"
	StageAppointmentSelect     Stage = "appointment_select"
	StageAwaitingDate          Stage = "awaiting_date"
	StageCompleted             Stage = "completed"
	StageEscalated             Stage = "escalated"
)

// Terminal reports whether no further dialogue happens in this stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageEscalated
}

// Status records which outbound prompt, or which waiting mode, is outstanding.
type Status string

const (
	StatusPending                        Status = "pending"
	StatusResponded                      Status = "responded"
	StatusAwaitingAttendee               Status = "awaiting_attendee"
	StatusAwaitingCorrectionConfirmation Status = "awaiting_correction_confirmation"
	StatusAwaitingSeverityPrompt         Status = "awaiting_severity_prompt"
	StatusAwaitingAppointment            Status = "awaiting_appointment"
	StatusAwaitingContinuation           Status = "awaiting_continuation"
	StatusAwaitingAdminOffer             Status = "awaiting_admin_offer"
	StatusSnoozed                        Status = "snoozed"
	StatusEscalated                      Status = "escalated"
	StatusCompleted                      Status = "completed"
)

// Terminal reports whether the status ends the conversation.
func (s Status) Terminal() bool {
	return s == StatusEscalated || s == StatusCompleted
}

// Waiting reports whether the status is one of the mutually exclusive
// waiting modes.
func (s Status) Waiting() bool {
	return s == StatusSnoozed || s == StatusAwaitingContinuation || s == StatusAwaitingAdminOffer
}

// PromptKind says whether a prompt expects a bounded answer set.
type PromptKind string

const (
	FixedChoice PromptKind = "fixed_choice"
	FreeText    PromptKind = "free_text"
)

// Intent is a token class a reply can be read as.
type Intent string

const (
	IntentUnknown     Intent = "unknown"
	IntentConfirm     Intent = "confirm"
	IntentReject      Intent = "reject"
	IntentCorrection  Intent = "correction"
	IntentWrongPerson Intent = "wrong_person"
	IntentBusy        Intent = "busy"
	IntentSelf        Intent = "self"
	IntentOther       Intent = "other"
	IntentDetails     Intent = "details"
	IntentClaimType   Intent = "claim_type"
	IntentSeverity    Intent = "severity"
	IntentPresencial  Intent = "presencial"
	IntentTelematica  Intent = "telematica"
	IntentDate        Intent = "date"
	IntentYes         Intent = "yes"
	IntentNo          Intent = "no"
)

// PromptKey names a prompt template.
type PromptKey string

const (
	PromptInitial            PromptKey = "initial"
	PromptAskCorrections     PromptKey = "ask_corrections"
	PromptConfirmCorrections PromptKey = "confirm_corrections"
	PromptAttendee           PromptKey = "attendee_select"
	PromptOtherPerson        PromptKey = "other_person_details"
	PromptClaimType          PromptKey = "claim_type_menu"
	PromptSeverity           PromptKey = "severity_menu"
	PromptAppointment        PromptKey = "appointment_select"
	PromptDate               PromptKey = "ask_date"
	PromptSummary            PromptKey = "summary"
	PromptPresencialForced   PromptKey = "presencial_forced"
	PromptWrongPerson        PromptKey = "wrong_person_close"
	PromptSnoozed            PromptKey = "snoozed"
	PromptAdminOffer         PromptKey = "admin_offer"
	PromptYesNo              PromptKey = "yes_no_repeat"
	PromptHandoff            PromptKey = "handoff"
	PromptEscalation         PromptKey = "escalation_notice"
	PromptContinuation       PromptKey = "continuation_ask"
	PromptReminder           PromptKey = "reminder"
	PromptFinished           PromptKey = "finished"
)

// Prompt describes one outbound message: what kind of answer it expects,
// which template it came from, and the rendered text.
type Prompt struct {
	Kind PromptKind        `json:"kind"`
	Key  PromptKey         `json:"key"`
	Text string            `json:"text"`
	Vars map[string]string `json:"vars,omitempty"`
}

// Collected field keys.
const (
	FieldClaimRef              = "claim_ref"
	FieldInsuredName           = "insured_name"
	FieldAddress               = "address"
	FieldIncidentDate          = "incident_date"
	FieldCorrectionsRaw        = "corrections_raw"
	FieldCorrectedAddress      = "corrected_address"
	FieldCorrectedIncidentDate = "corrected_incident_date"
	FieldCorrectedInsuredName  = "corrected_insured_name"
	FieldAttendee              = "attendee"
	FieldOtherPersonDetails    = "other_person_details"
	FieldOtherPersonName       = "other_person_name"
	FieldOtherPersonPhone      = "other_person_phone"
	FieldOtherPersonRelation   = "other_person_relation"
	FieldClaimType             = "claim_type"
	FieldClaimTypeLabel        = "claim_type_label"
	FieldSeverityBand          = "severity_band"
	FieldAppointmentMode       = "appointment_mode"
	FieldPreferredDate         = "preferred_date"
	FieldOutcome               = "outcome"
)

// Outcomes recorded in FieldOutcome when a conversation ends.
const (
	OutcomeCompleted             = "completed"
	OutcomePresencialForced      = "presencial_forced"
	OutcomeWrongPerson           = "wrong_person"
	OutcomeExpiredNoContinuation = "expired_no_continuation"
	OutcomeEscalated             = "escalated"
)

// Appointment modes.
const (
	ModePresencial = "presencial"
	ModeTelematica = "telematica"
)
