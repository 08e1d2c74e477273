package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zulandar/perito/internal/dialogue"
)

const classifySystem = `Eres el clasificador de respuestas de un asistente de WhatsApp que tramita siniestros de hogar.
Clasifica el mensaje del asegurado en UNA intención de esta lista:
confirm, reject, correction, wrong_person, busy, self, other, details, claim_type, severity, presencial, telematica, date, yes, no, unknown.
Extrae además los datos que aparezcan, usando solo estas claves:
claim_type (número del 1 al 18), severity_band (número del 1 al 5), preferred_date, other_person_details,
corrected_address, corrected_incident_date, corrected_insured_name.
Responde solo con JSON: {"intent": "...", "confidence": 0.0-1.0, "fields": {"clave": "valor"}}.`

var knownIntents = map[dialogue.Intent]bool{
	dialogue.IntentConfirm: true, dialogue.IntentReject: true, dialogue.IntentCorrection: true,
	dialogue.IntentWrongPerson: true, dialogue.IntentBusy: true, dialogue.IntentSelf: true,
	dialogue.IntentOther: true, dialogue.IntentDetails: true, dialogue.IntentClaimType: true,
	dialogue.IntentSeverity: true, dialogue.IntentPresencial: true, dialogue.IntentTelematica: true,
	dialogue.IntentDate: true, dialogue.IntentYes: true, dialogue.IntentNo: true,
	dialogue.IntentUnknown: true,
}

// Classifier reads free-form replies into a dialogue.Classification.
type Classifier struct {
	gen Generator
}

// NewClassifier creates a Classifier over gen.
func NewClassifier(gen Generator) *Classifier {
	return &Classifier{gen: gen}
}

type classification struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields"`
}

// Classify asks the model for the intent of text. Unknown intents come back
// as IntentUnknown with zero confidence.
func (c *Classifier) Classify(ctx context.Context, text string) (dialogue.Classification, error) {
	raw, err := c.gen.Generate(ctx, classifySystem, text, true)
	if err != nil {
		return dialogue.Classification{}, fmt.Errorf("gemini: classify: %w", err)
	}
	return parseClassification(raw)
}

func parseClassification(raw string) (dialogue.Classification, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return dialogue.Classification{}, fmt.Errorf("gemini: classify: decode %q: %w", raw, err)
	}
	intent := dialogue.Intent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !knownIntents[intent] {
		return dialogue.Classification{Intent: dialogue.IntentUnknown}, nil
	}
	conf := out.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	fields := make(map[string]string, len(out.Fields))
	for k, v := range out.Fields {
		if v = strings.TrimSpace(v); v != "" {
			fields[k] = v
		}
	}
	return dialogue.Classification{Intent: intent, Confidence: conf, Fields: fields}, nil
}
