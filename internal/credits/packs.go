package credits

// Pack is one purchasable credit bundle.
type Pack struct {
	ID         string `json:"id"`
	Credits    int    `json:"credits"`
	PriceCents int    `json:"price_cents"`
}

// Packs is the fixed catalog, cheapest first.
var Packs = []Pack{
	{ID: "starter", Credits: 50, PriceCents: 1900},
	{ID: "growth", Credits: 150, PriceCents: 4900},
	{ID: "scale", Credits: 400, PriceCents: 9900},
}

// PackByID looks up a pack in the catalog.
func PackByID(id string) (Pack, bool) {
	for _, p := range Packs {
		if p.ID == id {
			return p, true
		}
	}
	return Pack{}, false
}
