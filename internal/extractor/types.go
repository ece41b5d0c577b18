package extractor

// CardFields is the card-level enrichment the extractor produces: who
// bought, who to contact, and a human-readable summary of the order.
type CardFields struct {
	Purchaser     string
	BuyerContact  string
	OrderSummary  string
}

// LineItem is a single order line as parsed and classified by the two
// LLM passes, with unit_price/total_revenue filled in by Go-side
// numeric post-processing — never by the model.
type LineItem struct {
	LineIndex    int
	Quantity     float64
	RawPrice     float64
	PriceKind    string // "per_unit" or "total"
	UnitPrice    float64
	TotalRevenue float64
	Description  string
	BusinessLine string // "signage", "printing", "engraving", or "" (unclassified)
	Material     string
	Dimensions   string
}

// Result is the full output of one extraction.
type Result struct {
	CardFields CardFields
	LineItems  []LineItem
}

const (
	PriceKindPerUnit = "per_unit"
	PriceKindTotal   = "total"
)
