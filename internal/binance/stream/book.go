package stream

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

type Ticker struct {
	Symbol string
	Bid    float64
	Ask    float64
	At     time.Time
}

func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// ParseBookTicker extracts a ticker from a bookTicker event, accepting both
// the raw stream shape and the combined-stream envelope.
func ParseBookTicker(raw json.RawMessage, now time.Time) (Ticker, bool) {
	var event struct {
		Symbol string          `json:"s"`
		Bid    string          `json:"b"`
		Ask    string          `json:"a"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return Ticker{}, false
	}
	if event.Symbol == "" && len(event.Data) > 0 {
		return ParseBookTicker(event.Data, now)
	}
	if event.Symbol == "" {
		return Ticker{}, false
	}
	bid, err := strconv.ParseFloat(event.Bid, 64)
	if err != nil {
		return Ticker{}, false
	}
	ask, err := strconv.ParseFloat(event.Ask, 64)
	if err != nil {
		return Ticker{}, false
	}
	if bid <= 0 || ask <= 0 {
		return Ticker{}, false
	}
	return Ticker{Symbol: event.Symbol, Bid: bid, Ask: ask, At: now}, true
}

// Book caches the latest ticker per symbol with a freshness bound.
type Book struct {
	mu     sync.RWMutex
	quotes map[string]Ticker
	maxAge time.Duration
	now    func() time.Time
}

func NewBook(maxAge time.Duration) *Book {
	return &Book{quotes: make(map[string]Ticker), maxAge: maxAge, now: time.Now}
}

func (b *Book) Update(t Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[t.Symbol] = t
}

// Mid returns the cached mid price if the entry is fresher than maxAge.
func (b *Book) Mid(symbol string) (float64, bool) {
	b.mu.RLock()
	ticker, ok := b.quotes[symbol]
	b.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if b.maxAge > 0 && b.now().Sub(ticker.At) > b.maxAge {
		return 0, false
	}
	return ticker.Mid(), true
}

// Handler returns a Run callback that feeds the book.
func (b *Book) Handler() func(json.RawMessage) {
	return func(raw json.RawMessage) {
		if ticker, ok := ParseBookTicker(raw, b.now()); ok {
			b.Update(ticker)
		}
	}
}
