package dialogue

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Minimum reply lengths for free-text stages.
const (
	minCorrectionsLen = 5
	minOtherPersonLen = 10
	minDateLen        = 4
)

var (
	labelAddress = regexp.MustCompile(`(?im)^\s*direcci[oó]n\s*:\s*(.+?)\s*$`)
	labelDate    = regexp.MustCompile(`(?im)^\s*fecha(?:\s+de\s+ocurrencia)?\s*:\s*(.+?)\s*$`)
	labelName    = regexp.MustCompile(`(?im)^\s*nombre(?:\s+del\s+asegurado)?\s*:\s*(.+?)\s*$`)
)

// extractCorrections reads corrected claim data. Labeled lines
// ("dirección: ...") win; otherwise the first three non-empty lines are read
// as address, date and name.
func extractCorrections(raw, _ string) (map[string]string, bool) {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < minCorrectionsLen {
		return nil, false
	}
	out := map[string]string{FieldCorrectionsRaw: text}

	labeled := false
	for field, re := range map[string]*regexp.Regexp{
		FieldCorrectedAddress:      labelAddress,
		FieldCorrectedIncidentDate: labelDate,
		FieldCorrectedInsuredName:  labelName,
	} {
		if m := re.FindStringSubmatch(text); m != nil {
			out[field] = m[1]
			labeled = true
		}
	}
	if labeled {
		return out, true
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return out, true
	}
	order := []string{FieldCorrectedAddress, FieldCorrectedIncidentDate, FieldCorrectedInsuredName}
	for i, l := range lines {
		if i >= len(order) {
			break
		}
		out[order[i]] = l
	}
	return out, true
}

var (
	phonePattern = regexp.MustCompile(`\+?\d[\d\s.\-]{7,}\d`)
	relations    = []string{
		"inquilino", "inquilina", "familiar", "hijo", "hija", "esposo", "esposa",
		"marido", "mujer", "pareja", "padre", "madre", "hermano", "hermana",
		"vecino", "vecina", "administrador", "portero", "empleado", "empleada",
	}
)

// extractOtherPerson reads the contact details of the person who will attend
// the appointment instead of the insured.
func extractOtherPerson(raw, folded string) (map[string]string, bool) {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < minOtherPersonLen {
		return nil, false
	}
	phone := ""
	if m := phonePattern.FindString(text); m != "" {
		phone = digitsOnly(m)
		if len(phone) < 9 {
			phone = ""
		}
	}
	if phone == "" && len(strings.Fields(folded)) < 3 {
		return nil, false
	}

	out := map[string]string{FieldOtherPersonDetails: text}
	if phone != "" {
		out[FieldOtherPersonPhone] = phone
	}
	for _, r := range relations {
		if containsPhrase(folded, r) {
			out[FieldOtherPersonRelation] = r
			break
		}
	}
	first := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';' || r == '·'
	})
	name := ""
	if len(first) > 0 {
		name = strings.Trim(phonePattern.ReplaceAllString(first[0], ""), " -·")
	}
	if name != "" {
		out[FieldOtherPersonName] = name
	}
	return out, true
}

var menuNumber = regexp.MustCompile(`\b(\d{1,2})\b`)

// extractClaimType matches a menu number (1-18) or a category keyword.
func extractClaimType(_, folded string) (map[string]string, bool) {
	if m := menuNumber.FindStringSubmatch(folded); m != nil {
		n, _ := strconv.Atoi(m[1])
		if c, ok := ClaimCategoryByCode(n); ok {
			return claimFields(c), true
		}
	}
	for _, c := range ClaimCategories {
		if containsAnyPhrase(folded, c.Synonyms) {
			return claimFields(c), true
		}
	}
	return nil, false
}

func claimFields(c ClaimCategory) map[string]string {
	return map[string]string{
		FieldClaimType:      strconv.Itoa(c.Code),
		FieldClaimTypeLabel: c.Label,
	}
}

var (
	thousandsGap = regexp.MustCompile(`(\d) (\d{3})\b`)
	amount       = regexp.MustCompile(`\b(\d{2,})\b`)
	bandNumber   = regexp.MustCompile(`\b([1-5])\b`)
	bandWords    = map[string]int{"uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5}
)

// extractSeverity matches a band number (1-5) or an amount in euros.
func extractSeverity(_, folded string) (map[string]string, bool) {
	compact := folded
	for {
		next := thousandsGap.ReplaceAllString(compact, "$1$2")
		if next == compact {
			break
		}
		compact = next
	}

	var amounts []int
	for _, m := range amount.FindAllStringSubmatch(compact, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil {
			amounts = append(amounts, v)
		}
	}

	band := 0
	switch {
	case len(amounts) > 0 && containsAnyPhrase(compact, []string{"mas de", "mas", "superior", "supera"}):
		band = bandFor(maxInt(amounts) + 1)
	case len(amounts) > 1:
		band = bandFor((amounts[0] + amounts[1]) / 2)
	case len(amounts) == 1:
		band = bandFor(amounts[0])
	default:
		if m := bandNumber.FindStringSubmatch(compact); m != nil {
			band, _ = strconv.Atoi(m[1])
		} else if v, ok := bandWords[compact]; ok {
			band = v
		}
	}
	if band == 0 {
		return nil, false
	}
	return map[string]string{FieldSeverityBand: strconv.Itoa(band)}, true
}

func bandFor(euros int) int {
	switch {
	case euros <= 500:
		return 1
	case euros <= 2500:
		return 2
	case euros <= 5000:
		return 3
	case euros <= 12000:
		return 4
	default:
		return 5
	}
}

var (
	numericDate = regexp.MustCompile(`\b\d{1,2}\s*[/\-.]\s*\d{1,2}(?:\s*[/\-.]\s*\d{2,4})?\b`)
	clockTime   = regexp.MustCompile(`\b\d{1,2}\s*(?::|h)\s*\d{2}\b|\b\d{1,2}\s*h\b`)
	dayOfMonth  = regexp.MustCompile(`\b\d{1,2} de (enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)\b`)
	atHour      = regexp.MustCompile(`\ba las \d{1,2}\b`)
	dateWords   = []string{
		"lunes", "martes", "miercoles", "jueves", "viernes", "sabado", "domingo",
		"hoy", "manana", "pasado manana", "tarde", "noche", "mediodia",
		"proxima semana", "semana que viene", "fin de semana", "cualquier dia",
		"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto",
		"septiembre", "setiembre", "octubre", "noviembre", "diciembre",
	}
)

// extractDate accepts any recognisable date or time-of-day phrase
// ("15/01/2026", "martes por la tarde", "mañana a las 10").
func extractDate(raw, folded string) (map[string]string, bool) {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < minDateLen {
		return nil, false
	}
	if numericDate.MatchString(text) || clockTime.MatchString(strings.ToLower(text)) ||
		dayOfMonth.MatchString(folded) || atHour.MatchString(folded) ||
		containsAnyPhrase(folded, dateWords) {
		return map[string]string{FieldPreferredDate: text}, true
	}
	return nil, false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func maxInt(vs []int) int {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
