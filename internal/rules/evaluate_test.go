package rules

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestEvaluateRuleOperators(t *testing.T) {
	e := NewEvaluator(slog.New(slog.DiscardHandler))
	row := Values{"cpu": "42", "name": "Web-Server-01", "tags": []any{"prod", "eu"}}

	cases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"greater true", Rule{Field: "cpu", Operator: OpGreater, Value: "10"}, true},
		{"less false", Rule{Field: "cpu", Operator: OpLess, Value: "10"}, false},
		{"regex prefix", Rule{Field: "cpu", Operator: OpRegex, Value: "^4"}, true},
		{"regex invalid", Rule{Field: "cpu", Operator: OpRegex, Value: "["}, false},
		{"regex empty never matches", Rule{Field: "cpu", Operator: OpRegex, Value: "  "}, false},
		{"regex case insensitive", Rule{Field: "name", Operator: OpRegex, Value: "web-server"}, true},
		{"regex pattern is lowercased", Rule{Field: "cpu", Operator: OpRegex, Value: `^\D+$`}, true},
		{"regex lowercased escape", Rule{Field: "name", Operator: OpRegex, Value: `^\D+$`}, false},
		{"equals folds case and space", Rule{Field: "name", Operator: OpEquals, Value: "  web-server-01 "}, true},
		{"not equals", Rule{Field: "name", Operator: OpNotEquals, Value: "db"}, true},
		{"missing field equals empty", Rule{Field: "owner", Operator: OpEquals, Value: ""}, true},
		{"greater on text is false", Rule{Field: "name", Operator: OpGreater, Value: "1"}, false},
		{"less with empty value is false", Rule{Field: "cpu", Operator: OpLess, Value: ""}, false},
		{"array joined", Rule{Field: "tags", Operator: OpEquals, Value: "prod, eu"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.Evaluate(tc.rule, row); got != tc.want {
				t.Fatalf("Evaluate(%+v) = %v, want %v", tc.rule, got, tc.want)
			}
		})
	}
}

func TestEvaluateEmptyGroupIsVacuous(t *testing.T) {
	e := NewEvaluator(nil)
	for _, mode := range []Mode{ModeAll, ModeAny} {
		if !e.Evaluate(Group{Mode: mode, Children: []Node{}}, Values{}) {
			t.Fatalf("empty %s group should match", mode)
		}
	}
}

func TestEvaluateGroupModes(t *testing.T) {
	e := NewEvaluator(nil)
	row := Values{"os": "linux", "env": "prod"}
	yes := Rule{Field: "os", Operator: OpEquals, Value: "linux"}
	no := Rule{Field: "env", Operator: OpEquals, Value: "dev"}

	if e.Evaluate(Group{Mode: ModeAll, Children: []Node{yes, no}}, row) {
		t.Fatalf("all-group with a failing child should not match")
	}
	if !e.Evaluate(Group{Mode: ModeAny, Children: []Node{no, yes}}, row) {
		t.Fatalf("any-group with a passing child should match")
	}
	nested := Group{Mode: ModeAll, Children: []Node{yes, Group{Mode: ModeAny, Children: []Node{no}}}}
	if e.Evaluate(nested, row) {
		t.Fatalf("nested any-group with only failing children should not match")
	}
}

func TestInvalidPatternLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	e := NewEvaluator(slog.New(slog.NewTextHandler(&buf, nil)))
	r := Rule{Field: "x", Operator: OpRegex, Value: "("}
	for i := 0; i < 3; i++ {
		if e.Evaluate(r, Values{"x": "("}) {
			t.Fatalf("invalid pattern must not match")
		}
	}
	if got := strings.Count(buf.String(), "invalid rule pattern"); got != 1 {
		t.Fatalf("expected one warning, got %d: %s", got, buf.String())
	}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"a", "a"},
		{42.0, "42"},
		{1.5, "1.5"},
		{true, "true"},
		{[]any{"a", nil, 3.0}, "a, , 3"},
		{map[string]any{"b": "2", "a": "1"}, "1, 2"},
	}
	for _, tc := range cases {
		if got := Stringify(tc.in); got != tc.want {
			t.Fatalf("Stringify(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFilterAndCount(t *testing.T) {
	e := NewEvaluator(nil)
	rows := []Values{{"n": "1"}, {"n": "5"}, {"n": "9"}}
	n := Rule{Field: "n", Operator: OpGreater, Value: "3"}
	if got := len(Filter(e, n, rows)); got != 2 {
		t.Fatalf("Filter returned %d rows, want 2", got)
	}
	if got := Count(e, n, rows); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
}
