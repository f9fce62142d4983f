package domain

import "strings"

// HasValue reports whether v counts as a supplied value: nil and blank
// strings do not. Anything else, including zero numbers and empty lists,
// does.
func HasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

// FirstNonEmpty is an order-preserving reducer over field contributions.
// For each field the first offered value that HasValue wins; later offers
// never overwrite a resolved field. Both the cluster merge and the pool
// mapping fill go through it so they break ties identically.
type FirstNonEmpty struct {
	order    []string
	values   map[string]any
	resolved map[string]bool
}

// NewFirstNonEmpty returns an empty reducer.
func NewFirstNonEmpty() *FirstNonEmpty {
	return &FirstNonEmpty{
		values:   make(map[string]any),
		resolved: make(map[string]bool),
	}
}

// Declare makes field present with a placeholder until a value is offered.
func (m *FirstNonEmpty) Declare(field string, placeholder any) {
	if _, ok := m.values[field]; ok {
		return
	}
	m.order = append(m.order, field)
	m.values[field] = placeholder
}

// Offer contributes value for field and reports whether it won.
func (m *FirstNonEmpty) Offer(field string, value any) bool {
	m.Declare(field, nil)
	if m.resolved[field] || !HasValue(value) {
		return false
	}
	m.values[field] = value
	m.resolved[field] = true
	return true
}

// Resolved reports whether field already has a winning value.
func (m *FirstNonEmpty) Resolved(field string) bool {
	return m.resolved[field]
}

// Fields returns the fields in first-declared order.
func (m *FirstNonEmpty) Fields() []string {
	return append([]string(nil), m.order...)
}

// Result returns a fresh map of every declared field.
func (m *FirstNonEmpty) Result() map[string]any {
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
