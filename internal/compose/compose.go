// Package compose renders prompts from the built-in Spanish catalog.
package compose

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/perito/internal/dialogue"
)

// Request is what a composer needs to render one prompt.
type Request struct {
	Key     dialogue.PromptKey
	Kind    dialogue.PromptKind
	Stage   dialogue.Stage
	Fields  map[string]string
	Attempt int    // reminder attempt number, 1-based
	Pending string // text of the outstanding prompt a reminder repeats
	Snooze  time.Duration
}

// Composer produces the prompt to send for a request.
type Composer interface {
	Compose(ctx context.Context, req Request) (dialogue.Prompt, error)
}

// WithFallback composes through c and falls back to the catalog when c
// fails or is nil.
func WithFallback(ctx context.Context, c Composer, req Request) dialogue.Prompt {
	if c != nil {
		if p, err := c.Compose(ctx, req); err == nil && p.Text != "" {
			return p
		}
	}
	p, err := Catalog{}.Compose(ctx, req)
	if err != nil {
		return dialogue.Prompt{Kind: req.Kind, Key: req.Key}
	}
	return p
}

// Catalog renders prompts from fixed templates. It never fails for a known
// key and is the fallback for any other composer.
type Catalog struct{}

// Compose implements the composer contract.
func (Catalog) Compose(_ context.Context, req Request) (dialogue.Prompt, error) {
	text, err := Render(req)
	if err != nil {
		return dialogue.Prompt{}, err
	}
	vars := map[string]string{}
	if req.Attempt > 0 {
		vars["attempt"] = strconv.Itoa(req.Attempt)
	}
	return dialogue.Prompt{Kind: req.Kind, Key: req.Key, Text: text, Vars: vars}, nil
}

// Render returns the catalog text for req.
func Render(req Request) (string, error) {
	f := req.Fields
	switch req.Key {
	case dialogue.PromptInitial:
		return initialText(f), nil
	case dialogue.PromptAskCorrections:
		return "Por favor, indíquenos los datos correctos con este formato:\n\n" +
			"Dirección: ...\nFecha de ocurrencia: ...\nNombre del asegurado: ...", nil
	case dialogue.PromptConfirmCorrections:
		return confirmCorrectionsText(f), nil
	case dialogue.PromptAttendee:
		return "Gracias. ¿Quién atenderá al perito?\n\n1️⃣ Yo (asegurado/a)\n2️⃣ Otra persona", nil
	case dialogue.PromptOtherPerson:
		return "Por favor, indíquenos:\n\n· Nombre y apellidos\n· Teléfono de contacto\n" +
			"· Relación con el siniestro (inquilino/a, familiar, etc.)", nil
	case dialogue.PromptClaimType:
		return claimMenu(), nil
	case dialogue.PromptSeverity:
		return severityMenu(), nil
	case dialogue.PromptAppointment:
		return "¿Qué tipo de cita prefiere?\n\n1️⃣ Presencial\n2️⃣ Telemática (videollamada)", nil
	case dialogue.PromptDate:
		if f[dialogue.FieldAppointmentMode] == dialogue.ModePresencial && f[dialogue.FieldSeverityBand] == "" {
			return "Cita únicamente disponible presencialmente, por favor indique la fecha que mejor le convenga " +
				"(por ejemplo: 15/01/2026 o \"martes por la tarde\").", nil
		}
		return "Por favor, indique la fecha que mejor le convenga (por ejemplo: 15/01/2026 o \"martes por la tarde\").", nil
	case dialogue.PromptSummary:
		return summaryText(f), nil
	case dialogue.PromptPresencialForced:
		return "Por la gravedad indicada, la peritación debe realizarse presencialmente. " +
			"El perito se pondrá en contacto con usted para concertar la visita. Muchas gracias.", nil
	case dialogue.PromptWrongPerson:
		return "Disculpe las molestias. Hemos tomado nota de que no es usted la persona asegurada. Muchas gracias.", nil
	case dialogue.PromptSnoozed:
		return "Entendido. Le volveremos a contactar en " + spanishDuration(req.Snooze) + ".", nil
	case dialogue.PromptAdminOffer:
		return "No he podido entender su respuesta. ¿Desea que le atienda una persona de administración? (Sí/No)", nil
	case dialogue.PromptYesNo:
		return "Por favor, responda Sí o No.", nil
	case dialogue.PromptHandoff:
		return "Administración se pondrá en contacto con usted. Muchas gracias.", nil
	case dialogue.PromptEscalation:
		return "Debido a que no hemos recibido respuesta, se procederá a la llamada por parte del perito.", nil
	case dialogue.PromptContinuation:
		return "Hola de nuevo. ¿Desea continuar con la gestión de su siniestro? (Sí/No)", nil
	case dialogue.PromptReminder:
		return reminderText(req.Attempt, req.Pending), nil
	case dialogue.PromptFinished:
		return "Su gestión ya ha finalizado. Si necesita algo más, contacte con su aseguradora.", nil
	}
	return "", fmt.Errorf("compose: unknown prompt %q", req.Key)
}

// DefaultSnooze is announced when a request carries no snooze duration.
const DefaultSnooze = 6 * time.Hour

// spanishDuration renders d as "6 horas", "1 hora y 30 minutos" or
// "45 minutos", rounded to the minute.
func spanishDuration(d time.Duration) string {
	if d <= 0 {
		d = DefaultSnooze
	}
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	plural := func(n int, one, many string) string {
		if n == 1 {
			return "1 " + one
		}
		return strconv.Itoa(n) + " " + many
	}
	h, m := mins/60, mins%60
	switch {
	case h == 0:
		return plural(m, "minuto", "minutos")
	case m == 0:
		return plural(h, "hora", "horas")
	}
	return plural(h, "hora", "horas") + " y " + plural(m, "minuto", "minutos")
}

func initialText(f map[string]string) string {
	var b strings.Builder
	b.WriteString("Hola, le escribimos en relación con su siniestro")
	if ref := f[dialogue.FieldClaimRef]; ref != "" {
		fmt.Fprintf(&b, " %s", ref)
	}
	b.WriteString(". Por favor, confirme que los datos son correctos:\n\n")
	writeLine(&b, "Asegurado", f[dialogue.FieldInsuredName])
	writeLine(&b, "Dirección", f[dialogue.FieldAddress])
	writeLine(&b, "Fecha de ocurrencia", f[dialogue.FieldIncidentDate])
	b.WriteString("\n1️⃣ Sí, son correctos\n2️⃣ Hay un error\n3️⃣ No soy el asegurado\n4️⃣ Ahora no puedo atender")
	return b.String()
}

func confirmCorrectionsText(f map[string]string) string {
	var b strings.Builder
	b.WriteString("Hemos registrado los siguientes datos:\n\n")
	wrote := false
	for _, l := range []struct{ label, key string }{
		{"Dirección", dialogue.FieldCorrectedAddress},
		{"Fecha de ocurrencia", dialogue.FieldCorrectedIncidentDate},
		{"Nombre del asegurado", dialogue.FieldCorrectedInsuredName},
	} {
		if v := f[l.key]; v != "" {
			writeLine(&b, l.label, v)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString(f[dialogue.FieldCorrectionsRaw])
		b.WriteString("\n")
	}
	b.WriteString("\n¿Son correctos?\n1️⃣ Sí\n2️⃣ No")
	return b.String()
}

func claimMenu() string {
	var b strings.Builder
	b.WriteString("Indique la tipología del siniestro (marque una opción):\n\n")
	for _, c := range dialogue.ClaimCategories {
		fmt.Fprintf(&b, "%d. %s\n", c.Code, c.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func severityMenu() string {
	var b strings.Builder
	b.WriteString("Para clasificar la gravedad aproximada del siniestro, indique el tramo que considera más adecuado:\n\n")
	for _, s := range dialogue.SeverityBands {
		fmt.Fprintf(&b, "%d. %s\n", s.Band, s.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func summaryText(f map[string]string) string {
	tipologia := "(sin tipología)"
	if code := f[dialogue.FieldClaimType]; code != "" {
		tipologia = "Opción " + code
		if label := f[dialogue.FieldClaimTypeLabel]; label != "" {
			tipologia += " (" + label + ")"
		}
	}
	gravedad := "No aplica"
	if band := f[dialogue.FieldSeverityBand]; band != "" {
		gravedad = "Tramo " + band
	}
	modo := "Telemática"
	if f[dialogue.FieldAppointmentMode] == dialogue.ModePresencial {
		modo = "Presencial"
	}
	return fmt.Sprintf("✅ Resumen de datos:\n\n- Tipología: %s\n- Gravedad: %s\n- Tipo de cita: %s\n- Fecha propuesta: %s\n\n"+
		"Muchas gracias. El perito se pondrá en contacto con el asegurado para coordinar la visita.",
		tipologia, gravedad, modo, f[dialogue.FieldPreferredDate])
}

func reminderText(attempt int, pending string) string {
	var lead string
	switch {
	case attempt <= 1:
		lead = "Hola, ¿ha podido revisar nuestro mensaje anterior? Quedamos a la espera de su respuesta."
	case attempt == 2:
		lead = "Le recordamos que necesitamos su respuesta para continuar con la gestión de su siniestro."
	default:
		lead = "Último aviso: si no recibimos respuesta, el perito le llamará directamente."
	}
	if pending == "" {
		return lead
	}
	return lead + "\n\n" + pending
}

func writeLine(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "· %s: %s\n", label, value)
}
