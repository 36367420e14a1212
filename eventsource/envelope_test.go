package eventsource

import (
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	raw := []byte(`{"id":"evt-1","type":"glossary.term.updated","payload":{"guid":"g-1"},"emittedAt":"2026-08-01T10:00:00Z"}`)

	event, err := decodeEvent(raw)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if event.ID != "evt-1" {
		t.Errorf("ID = %q, want evt-1", event.ID)
	}
	if event.Type != "glossary.term.updated" {
		t.Errorf("Type = %q, want glossary.term.updated", event.Type)
	}
	if string(event.Payload) != `{"guid":"g-1"}` {
		t.Errorf("Payload = %s", event.Payload)
	}
	if event.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestDecodeEventRejectsPoison(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing id", `{"type":"glossary.term.updated"}`},
		{"missing type", `{"id":"evt-1"}`},
		{"empty body", ``},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeEvent([]byte(tc.raw)); err == nil {
				t.Errorf("decodeEvent(%q) succeeded, want error", tc.raw)
			}
		})
	}
}
