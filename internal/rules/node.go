// Package rules implements the boolean rule trees shared by manipulators and
// group selectors: a closed Rule|Group node type, the normalisation applied to
// every persisted tree, its JSON wire codec and the evaluator.
package rules

import (
	"encoding/json"
	"strings"
)

// Operator is the comparison applied by a Rule.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpRegex     Operator = "regex"
	OpGreater   Operator = "greater"
	OpLess      Operator = "less"
)

// ParseOperator folds s onto the operator set; unknown values become OpEquals.
func ParseOperator(s string) Operator {
	switch op := Operator(strings.ToLower(strings.TrimSpace(s))); op {
	case OpEquals, OpNotEquals, OpRegex, OpGreater, OpLess:
		return op
	default:
		return OpEquals
	}
}

// Mode combines the children of a Group.
type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

// ParseMode returns ModeAny only for an explicit "any".
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeAny)) {
		return ModeAny
	}
	return ModeAll
}

// Node is either a Rule or a Group. The set is closed.
type Node interface {
	node()
	json.Marshaler
}

// Rule compares one row field against Value.
type Rule struct {
	Field    string
	Operator Operator
	Value    string
}

// Group combines child nodes with Mode.
type Group struct {
	Mode     Mode
	Children []Node
}

func (Rule) node()  {}
func (Group) node() {}

// MatchAll returns the empty group, which matches every row.
func MatchAll() Group {
	return Group{Mode: ModeAll}
}

type ruleWire struct {
	Type     string   `json:"type"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

type groupWire struct {
	Type     string `json:"type"`
	Mode     Mode   `json:"mode"`
	Children []Node `json:"children"`
}

// MarshalJSON renders {type:"rule", field, operator, value}.
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleWire{Type: "rule", Field: r.Field, Operator: r.Operator, Value: r.Value})
}

// MarshalJSON renders {type:"group", mode, children}; children is never null.
func (g Group) MarshalJSON() ([]byte, error) {
	children := g.Children
	if children == nil {
		children = []Node{}
	}
	mode := g.Mode
	if mode == "" {
		mode = ModeAll
	}
	return json.Marshal(groupWire{Type: "group", Mode: mode, Children: children})
}

// Marshal serialises a node in its canonical wire form.
func Marshal(n Node) (json.RawMessage, error) {
	if n == nil {
		n = MatchAll()
	}
	return json.Marshal(n)
}
