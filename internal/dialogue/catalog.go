package dialogue

// ClaimCategory is one entry of the claim-type menu.
type ClaimCategory struct {
	Code     int
	Label    string
	Synonyms []string // folded phrases
}

// ClaimCategories is the fixed claim-type menu, in menu order.
var ClaimCategories = []ClaimCategory{
	{1, "Actos vandálicos sin sustracción", []string{"actos vandalicos", "vandalico", "vandalismo"}},
	{2, "Avería eléctrica de equipo", []string{"averia electrica", "equipo electrico"}},
	{3, "Caída de rayo", []string{"caida de rayo", "rayo"}},
	{4, "Cristales o rotura de vitrocerámica", []string{"cristales", "cristal", "vitroceramica"}},
	{5, "Daños por agua", []string{"danos por agua", "agua", "fuga", "humedad", "inundacion"}},
	{6, "Impacto", []string{"impacto", "golpe"}},
	{7, "Incendio", []string{"incendio", "fuego"}},
	{8, "Viento", []string{"viento", "temporal"}},
	{9, "Precipitaciones", []string{"precipitaciones", "lluvia", "granizo", "nieve"}},
	{10, "Responsabilidad Civil (RC)", []string{"responsabilidad civil", "rc", "responsabilidad"}},
	{11, "Robo sin sustracción (intento de robo, daños...)", []string{"robo sin sustraccion", "intento de robo", "intento robo"}},
	{12, "Rotura sanitario", []string{"rotura sanitario", "sanitario", "wc", "inodoro", "lavabo"}},
	{13, "Sobretensión suministro público", []string{"sobretension", "suministro publico"}},
	{14, "Arbitraje", []string{"arbitraje"}},
	{15, "Lesiones", []string{"lesiones", "lesion"}},
	{16, "Robo con sustracción", []string{"robo con sustraccion", "me han robado", "robo"}},
	{17, "Varias opciones", []string{"varias opciones", "varias", "multiple"}},
	{18, "Otros", []string{"otros", "otro"}},
}

// SeverityBand is one monetary band of the severity menu.
type SeverityBand struct {
	Band  int
	Label string
}

// SeverityBands lists the five monetary bands, lowest first.
var SeverityBands = []SeverityBand{
	{1, "0 – 500 €"},
	{2, "500 – 2.500 €"},
	{3, "2.500 – 5.000 €"},
	{4, "5.000 – 12.000 €"},
	{5, "Más de 12.000 €"},
}

// ClaimCategoryByCode returns the menu entry for code.
func ClaimCategoryByCode(code int) (ClaimCategory, bool) {
	for _, c := range ClaimCategories {
		if c.Code == code {
			return c, true
		}
	}
	return ClaimCategory{}, false
}
