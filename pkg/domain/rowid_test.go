package domain

import (
	"encoding/json"
	"testing"
)

func TestRowIDStringAndParse(t *testing.T) {
	cases := []struct {
		in      string
		want    RowID
		wantErr bool
	}{
		{in: "3:abc", want: RowID{TableID: 3, RowKey: "abc"}},
		{in: "12:a:b:c", want: RowID{TableID: 12, RowKey: "a:b:c"}},
		{in: "7:0", want: RowID{TableID: 7, RowKey: "0"}},
		{in: "abc", wantErr: true},
		{in: "x:1", wantErr: true},
		{in: "0:1", wantErr: true},
		{in: "4:", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseRowID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRowID(%q) expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRowID(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRowID(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
		if got.String() != tc.in {
			t.Fatalf("String() = %q, want %q", got.String(), tc.in)
		}
	}
}

func TestNewRowIDFallsBackToIndex(t *testing.T) {
	if got := NewRowID(5, "", 9).String(); got != "5:9" {
		t.Fatalf("expected index fallback, got %q", got)
	}
	if got := NewRowID(5, "k1", 9).String(); got != "5:k1" {
		t.Fatalf("expected row key, got %q", got)
	}
	if (RowID{}).String() != "" || !(RowID{}).IsZero() {
		t.Fatalf("zero id should render empty")
	}
}

func TestRowIDJSON(t *testing.T) {
	type wrapper struct {
		ID   RowID          `json:"id"`
		Seen map[RowID]bool `json:"seen"`
	}
	in := wrapper{ID: RowID{TableID: 2, RowKey: "x:y"}, Seen: map[RowID]bool{{TableID: 1, RowKey: "a"}: true}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"id":"2:x:y","seen":{"1:a":true}}` {
		t.Fatalf("unexpected json %s", raw)
	}
	var out wrapper
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != in.ID || !out.Seen[RowID{TableID: 1, RowKey: "a"}] {
		t.Fatalf("round trip mismatch: %#v", out)
	}
}
