// Package extractor enriches a card's name and description into
// structured order fields and line items via a two-pass LLM call. The
// client is a process-wide singleton: Init constructs it once at
// startup and every Extract call borrows the shared instance, rather
// than each dispatch goroutine opening its own HTTP client.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cardsync/internal/metrics"
	"cardsync/internal/taxonomy"
)

var (
	mu        sync.RWMutex
	singleton *Extractor
)

// Extractor wraps the shared LLM client plus the tuning the dispatcher
// needs at call time.
type Extractor struct {
	client         *anthropicClient
	timeout        time.Duration
	maxInputLength int
	logger         *slog.Logger
}

// Init constructs the process-wide Extractor. Must be called once at
// startup before any Extract call; Close releases it at shutdown.
func Init(apiKey, model string, timeout time.Duration, maxInputLength int, logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	singleton = &Extractor{
		client:         newAnthropicClient(apiKey, model),
		timeout:        timeout,
		maxInputLength: maxInputLength,
		logger:         logger,
	}
}

// Close releases the process-wide Extractor. Safe to call even if Init
// was never called.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	singleton = nil
}

// Extract runs the two-pass enrichment against the shared singleton.
// Empty description is not an error: it yields an empty Result with no
// line items and no card-level enrichment, per spec.
func Extract(ctx context.Context, cardName, cardDesc string) (*Result, error) {
	mu.RLock()
	e := singleton
	mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("extractor: Init was never called")
	}
	return e.extract(ctx, cardName, cardDesc)
}

func (e *Extractor) extract(ctx context.Context, cardName, cardDesc string) (*Result, error) {
	if cardDesc == "" {
		return &Result{}, nil
	}

	truncated := cardDesc
	if e.maxInputLength > 0 && len(truncated) > e.maxInputLength {
		truncated = truncated[:e.maxInputLength]
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := e.runPasses(ctx, cardName, truncated)
	metrics.ExtractionDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extract: %w: %v", taxonomy.ErrExtractionFailed, ctx.Err())
		}
		return nil, fmt.Errorf("extract: %w: %v", taxonomy.ErrExtractionFailed, err)
	}
	metrics.ExtractionsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.LineItemsExtracted.Observe(float64(len(result.LineItems)))
	return result, nil
}

func (e *Extractor) runPasses(ctx context.Context, cardName, cardDesc string) (*Result, error) {
	parsed, err := e.parsePass(ctx, cardName, cardDesc)
	if err != nil {
		return nil, fmt.Errorf("parse pass: %w", err)
	}
	if len(parsed) == 0 {
		return &Result{}, nil
	}

	fields, classified, err := e.classifyPass(ctx, cardName, cardDesc, parsed)
	if err != nil {
		return nil, fmt.Errorf("classify pass: %w", err)
	}

	items := make([]LineItem, 0, len(classified))
	for i, c := range classified {
		item := LineItem{
			LineIndex:    i + 1,
			Quantity:     c.Quantity,
			RawPrice:     c.RawPrice,
			PriceKind:    c.PriceKind,
			Description:  c.Description,
			BusinessLine: c.BusinessLine,
			Material:     c.Material,
			Dimensions:   c.Dimensions,
		}
		item.UnitPrice, item.TotalRevenue = computeRevenue(c.RawPrice, c.PriceKind, c.Quantity)
		items = append(items, item)
	}

	return &Result{CardFields: fields, LineItems: items}, nil
}

// computeRevenue derives unit_price and total_revenue from raw_price,
// price_kind, and quantity exactly per the parse contract: per-unit
// prices multiply out to a total, total prices divide down to a unit
// price unless quantity is sub-one (a malformed or fractional quantity
// leaves unit_price equal to the raw total rather than dividing by a
// near-zero denominator).
func computeRevenue(rawPrice float64, priceKind string, quantity float64) (unitPrice, totalRevenue float64) {
	switch priceKind {
	case PriceKindPerUnit:
		return rawPrice, rawPrice * quantity
	case PriceKindTotal:
		if quantity >= 1 {
			return rawPrice / quantity, rawPrice
		}
		return rawPrice, rawPrice
	default:
		return rawPrice, rawPrice
	}
}

type parsedLineItem struct {
	Quantity    float64 `json:"quantity"`
	RawPrice    float64 `json:"raw_price"`
	PriceKind   string  `json:"price_kind"`
	Description string  `json:"description"`
}

const parseSystemPrompt = `You extract order line items from a card's name and description. Respond with ONLY valid JSON matching:
{"line_items": [{"quantity": number, "raw_price": number, "price_kind": "per_unit"|"total", "description": string}]}
If no priced line items are present, respond {"line_items": []}.`

func (e *Extractor) parsePass(ctx context.Context, cardName, cardDesc string) ([]parsedLineItem, error) {
	userPrompt := fmt.Sprintf("Card name: %s\n\nCard description:\n%s", cardName, cardDesc)
	text, err := e.client.call(ctx, parseSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		LineItems []parsedLineItem `json:"line_items"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return nil, fmt.Errorf("decode parse-pass JSON: %w (raw: %s)", err, text)
	}
	return parsed.LineItems, nil
}

type classifiedLineItem struct {
	parsedLineItem
	BusinessLine string `json:"business_line"`
	Material     string `json:"material"`
	Dimensions   string `json:"dimensions"`
}

const classifySystemPrompt = `You classify order line items and summarize the overall order. Given a list of parsed line items, respond with ONLY valid JSON matching:
{
  "purchaser": string,
  "buyer_contact": string,
  "order_summary": string,
  "line_items": [{"quantity": number, "raw_price": number, "price_kind": string, "description": string, "business_line": "signage"|"printing"|"engraving"|"", "material": string, "dimensions": string}]
}
business_line must be one of signage, printing, engraving, or "" if it cannot be determined. Preserve quantity/raw_price/price_kind/description from the input line items unchanged.`

func (e *Extractor) classifyPass(ctx context.Context, cardName, cardDesc string, items []parsedLineItem) (CardFields, []classifiedLineItem, error) {
	payload, err := json.Marshal(struct {
		CardName    string           `json:"card_name"`
		CardDesc    string           `json:"card_description"`
		LineItems   []parsedLineItem `json:"line_items"`
	}{cardName, cardDesc, items})
	if err != nil {
		return CardFields{}, nil, fmt.Errorf("marshal classify input: %w", err)
	}

	text, err := e.client.call(ctx, classifySystemPrompt, string(payload))
	if err != nil {
		return CardFields{}, nil, err
	}

	var parsed struct {
		Purchaser    string               `json:"purchaser"`
		BuyerContact string               `json:"buyer_contact"`
		OrderSummary string               `json:"order_summary"`
		LineItems    []classifiedLineItem `json:"line_items"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return CardFields{}, nil, fmt.Errorf("decode classify-pass JSON: %w (raw: %s)", err, text)
	}

	fields := CardFields{
		Purchaser:    parsed.Purchaser,
		BuyerContact: parsed.BuyerContact,
		OrderSummary: parsed.OrderSummary,
	}
	return fields, parsed.LineItems, nil
}
