package invalidation

import (
	"encoding/json"
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		Version:   1,
		Op:        "update",
		ListingID: "lst-1042",
		Lat:       19.43,
		Lng:       -99.13,
		TS:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventValidate(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"bad version", func(e *Event) { e.Version = 2 }},
		{"bad op", func(e *Event) { e.Op = "upsert" }},
		{"empty listing id", func(e *Event) { e.ListingID = "  " }},
		{"zero ts", func(e *Event) { e.TS = time.Time{} }},
		{"lat out of range", func(e *Event) { e.Lat = 91 }},
		{"lng out of range", func(e *Event) { e.Lng = -181 }},
	}
	for _, tc := range cases {
		ev := validEvent()
		tc.mutate(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestEventDecode(t *testing.T) {
	raw := `{"version":1,"op":"delete","listing_id":"lst-7","lat":40.7,"lng":-74.0,"ts":"2025-06-01T12:00:00Z"}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ev.Op != "delete" || ev.ListingID != "lst-7" {
		t.Fatalf("got %+v", ev)
	}
}
