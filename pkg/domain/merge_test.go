package domain

import (
	"reflect"
	"testing"
)

func TestFirstNonEmptyPerFieldPrecedence(t *testing.T) {
	m := NewFirstNonEmpty()
	items := []map[string]any{
		{"a": "", "b": "x"},
		{"a": "y", "b": "z"},
	}
	for _, item := range items {
		for _, k := range []string{"a", "b"} {
			m.Offer(k, item[k])
		}
	}
	want := map[string]any{"a": "y", "b": "x"}
	if got := m.Result(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Result() = %v, want %v", got, want)
	}
}

func TestFirstNonEmptyDeclareKeepsOrderAndPlaceholder(t *testing.T) {
	m := NewFirstNonEmpty()
	m.Declare("os", "")
	m.Declare("site", "")
	m.Offer("cpu", nil)
	m.Declare("os", "ignored")
	if got := m.Fields(); !reflect.DeepEqual(got, []string{"os", "site", "cpu"}) {
		t.Fatalf("unexpected field order %v", got)
	}
	res := m.Result()
	if res["os"] != "" || res["cpu"] != nil {
		t.Fatalf("placeholders not kept: %#v", res)
	}
	if !m.Offer("os", "linux") || m.Offer("os", "bsd") {
		t.Fatalf("first offer must win and later ones lose")
	}
	if !m.Resolved("os") || m.Resolved("site") {
		t.Fatalf("resolved flags wrong")
	}
}

func TestHasValue(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{"", false},
		{"   ", false},
		{"x", true},
		{0.0, true},
		{false, true},
		{[]any{}, true},
	}
	for _, tc := range cases {
		if got := HasValue(tc.in); got != tc.want {
			t.Fatalf("HasValue(%#v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFirstNonEmptySkipsWhitespaceOnlyValues(t *testing.T) {
	m := NewFirstNonEmpty()
	if m.Offer("a", "  ") {
		t.Fatal("whitespace-only offer should not resolve the field")
	}
	if !m.Offer("a", "y") {
		t.Fatal("later non-blank offer should win")
	}
	if got := m.Result()["a"]; got != "y" {
		t.Fatalf("a = %#v, want y", got)
	}
}
