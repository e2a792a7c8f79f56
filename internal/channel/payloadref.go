package channel

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultPayloadRefs = 10000

// PayloadRefs keeps button payloads in process for platforms whose button
// value is too small for the JSON payload. Buttons carry a short token; the
// oldest entries are evicted once the table is full.
type PayloadRefs struct {
	mu      sync.Mutex
	max     int
	entries map[string]string
	order   []string
}

func NewPayloadRefs(max int) *PayloadRefs {
	if max <= 0 {
		max = defaultPayloadRefs
	}
	return &PayloadRefs{max: max, entries: make(map[string]string)}
}

// Put stores value and returns its token.
func (p *PayloadRefs) Put(value string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.order) >= p.max {
		delete(p.entries, p.order[0])
		p.order = p.order[1:]
	}
	p.entries[token] = value
	p.order = append(p.order, token)
	return token
}

// Resolve returns the payload stored under token.
func (p *PayloadRefs) Resolve(token string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.entries[token]
	return v, ok
}

// Len returns the number of stored payloads.
func (p *PayloadRefs) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// encodeButtonData packs an action ID and a payload token into a short
// callback string ("select_language|<32 hex>" is 48 bytes).
func (p *PayloadRefs) encodeButtonData(actionID, value string) string {
	return actionID + "|" + p.Put(value)
}

// decodeButtonData reverses encodeButtonData. An unknown token yields an
// empty value, which the handler treats as an invalid payload.
func (p *PayloadRefs) decodeButtonData(data string) (actionID, value string) {
	actionID, token, ok := strings.Cut(data, "|")
	if !ok {
		return data, ""
	}
	value, _ = p.Resolve(token)
	return actionID, value
}
