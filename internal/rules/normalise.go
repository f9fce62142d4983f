package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Parse decodes a persisted tree and normalises it. Empty input and JSON
// null yield MatchAll; only syntactically invalid JSON is an error.
func Parse(data []byte) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return MatchAll(), nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse rule tree: %w", err)
	}
	return Normalise(raw), nil
}

// MustParse is Parse for stored definitions that were normalised on save;
// a corrupt definition degrades to MatchAll.
func MustParse(data []byte) Node {
	n, err := Parse(data)
	if err != nil {
		return MatchAll()
	}
	return n
}

// Canonical parses and re-serialises a tree.
func Canonical(data []byte) (json.RawMessage, error) {
	n, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Marshal(n)
}

// Normalise canonicalises a decoded tree: unknown operators fold to equals,
// unknown modes to all, rules without a field are dropped and any other
// unrecognised shape becomes an empty group. The root is never nil.
func Normalise(raw any) Node {
	n, ok := normaliseNode(raw)
	if !ok {
		return MatchAll()
	}
	return n
}

func normaliseNode(raw any) (Node, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return MatchAll(), true
	}
	kind := strings.ToLower(strings.TrimSpace(asString(m["type"])))
	rawChildren, hasChildren := m["children"].([]any)

	switch {
	case kind == "rule", kind == "" && !hasChildren && m["field"] != nil:
		field := strings.TrimSpace(asString(m["field"]))
		if field == "" {
			return nil, false
		}
		return Rule{
			Field:    field,
			Operator: ParseOperator(asString(m["operator"])),
			Value:    asString(m["value"]),
		}, true
	case kind == "group", hasChildren:
		g := Group{Mode: ParseMode(asString(m["mode"]))}
		for _, c := range rawChildren {
			if child, ok := normaliseNode(c); ok {
				g.Children = append(g.Children, child)
			}
		}
		return g, true
	default:
		return MatchAll(), true
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	return Stringify(v)
}
