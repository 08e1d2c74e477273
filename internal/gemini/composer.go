package gemini

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/compose"
	"github.com/zulandar/perito/internal/dialogue"
)

const rephraseSystem = `Reescribe el siguiente mensaje de un gestor de siniestros para WhatsApp.
Mantén el significado, el tratamiento de usted y un tono cordial. No añadas datos, opciones ni enlaces.
Devuelve solo el texto reescrito, en una o dos frases.`

// Only notices are rephrased. Menus and data confirmations keep the catalog
// wording so the accepted answers stay valid.
var rephrasable = map[dialogue.PromptKey]bool{
	dialogue.PromptReminder:     true,
	dialogue.PromptContinuation: true,
	dialogue.PromptSnoozed:      true,
	dialogue.PromptEscalation:   true,
	dialogue.PromptHandoff:      true,
}

// Composer varies the wording of notices through the model and otherwise
// returns catalog prompts unchanged.
type Composer struct {
	gen    Generator
	log    *zap.Logger
	always compose.Catalog
}

// NewComposer creates a Composer over gen.
func NewComposer(gen Generator, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{gen: gen, log: log}
}

// Compose implements the composer contract. Model failures are logged and
// the catalog prompt is returned instead.
func (c *Composer) Compose(ctx context.Context, req compose.Request) (dialogue.Prompt, error) {
	p, err := c.always.Compose(ctx, req)
	if err != nil || !rephrasable[req.Key] {
		return p, err
	}

	lead := req
	lead.Pending = ""
	base, err := compose.Render(lead)
	if err != nil {
		return p, nil
	}
	text, err := c.gen.Generate(ctx, rephraseSystem, base, false)
	if err != nil {
		c.log.Warn("gemini: rephrase failed, using catalog text",
			zap.String("prompt", string(req.Key)), zap.Error(err))
		return p, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return p, nil
	}
	if req.Pending != "" {
		text += "\n\n" + req.Pending
	}
	p.Text = text
	p.Vars["rephrased"] = "true"
	return p, nil
}
