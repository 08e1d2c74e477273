package dialogue

// Guard is one row of the guard table: the token class a reply must belong to
// for the stage to take the edge labelled Intent.
//
// A keyword guard matches when the folded reply equals one of Exact or
// contains one of Phrases, and contains none of Unless. An extracting guard
// (Extract != nil) matches when Extract accepts the reply; Field names the
// classifier field that may stand in for the raw reply.
type Guard struct {
	Intent  Intent
	Exact   []string
	Phrases []string
	Unless  []string
	Extract func(raw, folded string) (map[string]string, bool)
	Field   string
}

// match applies the guard to a reply.
func (g Guard) match(raw, folded string) (map[string]string, bool) {
	if containsAnyPhrase(folded, g.Unless) {
		return nil, false
	}
	if g.Extract != nil {
		return g.Extract(raw, folded)
	}
	if equalsAny(folded, g.Exact) || containsAnyPhrase(folded, g.Phrases) {
		return nil, true
	}
	return nil, false
}

var yesTokens = []string{"si", "s", "ok", "vale", "claro", "correcto", "de acuerdo", "continuar", "1"}

// guardTable lists, per stage, the accepted token classes in priority order.
// Adding a stage or a token is a change to this table only.
var guardTable = map[Stage][]Guard{
	StageInitial: {
		{
			Intent:  IntentConfirm,
			Exact:   []string{"1", "si", "s", "ok", "vale", "correcto", "confirmo"},
			Phrases: []string{"si", "correcto", "correctos", "son correctos", "es correcto", "soy yo", "confirmo", "todo bien"},
			Unless:  []string{"no soy", "no es", "no son", "error", "errores", "incorrecto", "incorrectos", "no puedo", "ahora no"},
		},
		{
			Intent:  IntentCorrection,
			Exact:   []string{"2"},
			Phrases: []string{"error", "errores", "incorrecto", "incorrectos", "incorrecta", "corregir", "correccion", "mal", "no es correcto", "no son correctos", "cambiar"},
			Unless:  []string{"no soy"},
		},
		{
			Intent:  IntentWrongPerson,
			Exact:   []string{"3"},
			Phrases: []string{"no soy", "no soy el asegurado", "no soy la asegurada", "equivocado", "equivocada", "no lo conozco", "no la conozco"},
		},
		{
			Intent:  IntentBusy,
			Exact:   []string{"4"},
			Phrases: []string{"no puedo", "ahora no", "ocupado", "ocupada", "luego", "mas tarde", "despues", "en otro momento"},
		},
	},
	StageAwaitingCorrections: {
		{Intent: IntentDetails, Extract: extractCorrections},
	},
	StageConfirmingCorrections: {
		{
			Intent:  IntentConfirm,
			Exact:   []string{"1", "si", "s", "ok", "vale", "correcto", "correctos"},
			Phrases: []string{"si", "correcto", "correctos", "esta bien", "de acuerdo", "confirmo"},
			Unless:  []string{"no", "error", "incorrecto", "incorrectos"},
		},
		{
			Intent:  IntentReject,
			Exact:   []string{"2", "no"},
			Phrases: []string{"no", "error", "incorrecto", "incorrectos", "mal", "corregir"},
		},
	},
	StageAttendeeSelect: {
		{
			Intent:  IntentSelf,
			Exact:   []string{"1", "yo"},
			Phrases: []string{"yo", "yo mismo", "yo misma", "asegurado", "asegurada", "titular"},
			Unless:  []string{"otra persona", "otra", "otro"},
		},
		{
			Intent:  IntentOther,
			Exact:   []string{"2"},
			Phrases: []string{"otra persona", "otra", "otro", "familiar", "inquilino", "inquilina", "vecino", "vecina", "mi mujer", "mi marido", "mi hijo", "mi hija"},
		},
	},
	StageOtherPersonDetails: {
		{Intent: IntentDetails, Extract: extractOtherPerson},
	},
	StageClaimType: {
		{Intent: IntentClaimType, Extract: extractClaimType, Field: FieldClaimType},
	},
	StageSeverity: {
		{Intent: IntentSeverity, Extract: extractSeverity, Field: FieldSeverityBand},
	},
	StageAppointmentSelect: {
		{
			Intent:  IntentPresencial,
			Exact:   []string{"1"},
			Phrases: []string{"presencial", "en persona", "visita", "en casa", "domicilio"},
			Unless:  []string{"no presencial"},
		},
		{
			Intent:  IntentTelematica,
			Exact:   []string{"2"},
			Phrases: []string{"telematica", "telematico", "video", "videollamada", "online", "telefono", "llamada", "remota", "remoto", "no presencial"},
		},
	},
	StageAwaitingDate: {
		{
			Intent:  IntentDate,
			Extract: extractDate,
			Field:   FieldPreferredDate,
			Unless:  []string{"mas tarde", "en otro momento", "ahora no"},
		},
	},
}

// Guards returns the guard set for stage.
func Guards(stage Stage) []Guard {
	return guardTable[stage]
}

// Match reads a reply against the stage's guard set. A confident classifier
// intent that names one of the stage's keyword guards is taken as is;
// otherwise guards are tried in priority order against the raw reply and,
// for extracting guards, against the classifier's extracted field.
func Match(stage Stage, raw string, cls Classification, minConfidence float64) (Intent, map[string]string, bool) {
	guards := guardTable[stage]
	folded := Fold(raw)
	confident := cls.Intent != "" && cls.Intent != IntentUnknown && cls.Confidence >= minConfidence

	if confident {
		for _, g := range guards {
			if g.Intent == cls.Intent && g.Extract == nil {
				return g.Intent, nil, true
			}
		}
	}

	for _, g := range guards {
		if fields, ok := g.match(raw, folded); ok {
			return g.Intent, fields, true
		}
	}

	if confident {
		for _, g := range guards {
			if g.Extract == nil || g.Field == "" || g.Intent != cls.Intent || containsAnyPhrase(folded, g.Unless) {
				continue
			}
			v := cls.Fields[g.Field]
			if v == "" {
				continue
			}
			if fields, ok := g.Extract(v, Fold(v)); ok {
				return g.Intent, fields, true
			}
		}
	}
	return IntentUnknown, nil, false
}

// YesNo reads a reply to a yes/no question (continuation, admin offer).
func YesNo(raw string) (Intent, bool) {
	folded := Fold(raw)
	if folded == "no" || folded == "2" ||
		containsAnyPhrase(folded, []string{"no", "no quiero", "no continuar", "no gracias"}) {
		return IntentNo, true
	}
	if equalsAny(folded, yesTokens) ||
		containsAnyPhrase(folded, []string{"si", "vale", "claro", "quiero continuar", "continuar", "de acuerdo", "por favor"}) {
		return IntentYes, true
	}
	return IntentUnknown, false
}
