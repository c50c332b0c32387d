package isotime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Time
	}{
		{in: "2026-10-19T10:00:00Z", want: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{in: "2026-10-19T10:00:00.5Z", want: time.Date(2026, 10, 19, 10, 0, 0, 5e8, time.UTC)},
		{in: "2026-10-19T11:00:00+01:00", want: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{in: "2026-10-19T11:00:00+0100", want: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{in: "2026-10-19T10:00:00", want: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{in: "2026-10-19T10:00:00.123456", want: time.Date(2026, 10, 19, 10, 0, 0, 123456000, time.UTC)},
		{in: "2026-10-19 10:00:00.123456", want: time.Date(2026, 10, 19, 10, 0, 0, 123456000, time.UTC)},
		{in: "2026-10-19T10:00", want: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{in: "2026-10-19", want: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("Parse(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "yesterday", "19/10/2026", "2026-13-01T00:00:00"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q): expected error", in)
		}
	}
}

func TestTime_JSON(t *testing.T) {
	t.Parallel()

	var v struct {
		At Time `json:"at"`
	}
	if err := json.Unmarshal([]byte(`{"at":"2026-10-19T10:00:00.123456"}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.At.Location() != time.UTC || v.At.Nanosecond() != 123456000 {
		t.Fatalf("at=%v", v.At.Time)
	}

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"at":"2026-10-19T10:00:00.123456Z"}` {
		t.Fatalf("unexpected encoding: %s", b)
	}

	if err := json.Unmarshal([]byte(`{"at":null}`), &v); err != nil {
		t.Fatalf("Unmarshal null: %v", err)
	}
	if !v.At.IsZero() {
		t.Fatalf("null should decode to zero, got %v", v.At.Time)
	}
	b, _ = json.Marshal(v)
	if string(b) != `{"at":null}` {
		t.Fatalf("zero should encode as null: %s", b)
	}

	if err := json.Unmarshal([]byte(`{"at":12}`), &v); err == nil {
		t.Fatalf("expected error for a non-string timestamp")
	}
}
