package core

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vovakirdan/feelings/internal/realtime"
)

func TestLatestFromSkipsOwnMessages(t *testing.T) {
	messages := []Message{
		{ID: "a", From: "Bob", Timestamp: 100},
		{ID: "b", From: "Alice", Timestamp: 200},
	}

	latest, ok := LatestFrom(messages, "Alice")
	if !ok || latest.ID != "a" {
		t.Fatalf("expected message a, got %+v (ok=%v)", latest, ok)
	}

	if _, ok := LatestFrom(messages[1:], "Alice"); ok {
		t.Fatal("only own messages should yield nothing")
	}
}

func TestLatestFromTieKeepsFirst(t *testing.T) {
	messages := []Message{
		{ID: "x", From: "Bob", Timestamp: 300},
		{ID: "y", From: "Carol", Timestamp: 300},
		{ID: "z", From: "Bob", Timestamp: 100},
	}
	latest, _ := LatestFrom(messages, "Alice")
	if latest.ID != "x" {
		t.Fatalf("expected first of the tied entries, got %s", latest.ID)
	}
}

func TestDiffRoster(t *testing.T) {
	first := []Presence{{Name: "Alice"}, {Name: "Bob"}}
	second := []Presence{{Name: "Alice"}, {Name: "Bob"}, {Name: "Carol"}}

	if got := DiffRoster(nil, first, "Alice"); !reflect.DeepEqual(got, []string{"Bob"}) {
		t.Fatalf("first snapshot: unexpected joins %v", got)
	}
	if got := DiffRoster(rosterNames(first), second, "Alice"); !reflect.DeepEqual(got, []string{"Carol"}) {
		t.Fatalf("second snapshot: expected [Carol], got %v", got)
	}
	if got := DiffRoster(rosterNames(second), second, "Alice"); len(got) != 0 {
		t.Fatalf("unchanged roster should yield nothing, got %v", got)
	}
}

func TestDecodeMessagesKeepsQueryOrder(t *testing.T) {
	value := map[string]any{
		"m1": map[string]any{"emoji": "😊", "from": "bob", "timestamp": float64(300)},
		"m2": map[string]any{"emoji": "😢", "from": "bob", "timestamp": float64(100)},
		"m3": map[string]any{"emoji": "😡", "from": "amy", "timestamp": float64(200)},
		"m4": "garbage",
	}
	snap := realtime.NewSnapshot(MessagesPath("ABC123"), value, MessagesQuery(3))

	messages := DecodeMessages(snap)
	var ids []string
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	if !reflect.DeepEqual(ids, []string{"m2", "m3", "m1"}) {
		t.Fatalf("unexpected order: %v", ids)
	}
	if messages[2].Emoji != "😊" || messages[2].Timestamp != 300 {
		t.Fatalf("unexpected decoded message: %+v", messages[2])
	}
}

func TestDecodeRosterFallsBackToKey(t *testing.T) {
	snap := realtime.NewSnapshot(UsersPath("ABC123"), map[string]any{
		"bob":   map[string]any{"name": "bob", "online": true, "lastSeen": float64(5)},
		"carol": map[string]any{"online": true},
	}, nil)

	roster := DecodeRoster(snap)
	if len(roster) != 2 || roster[0].Name != "bob" || roster[1].Name != "carol" {
		t.Fatalf("unexpected roster: %+v", roster)
	}
	if !roster[0].Online || roster[0].LastSeen != 5 {
		t.Fatalf("unexpected presence: %+v", roster[0])
	}
}

func TestNewLobbyCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := NewLobbyCode()
		if len(code) != 6 {
			t.Fatalf("expected 6 characters, got %q", code)
		}
		normalized, err := NormalizeCode(code)
		if err != nil || normalized != code {
			t.Fatalf("generated code %q does not normalise to itself: %v", code, err)
		}
	}
}

func TestNormalizeInput(t *testing.T) {
	code, err := NormalizeCode("  abc123 ")
	if err != nil || code != "ABC123" {
		t.Fatalf("expected ABC123, got %q (%v)", code, err)
	}

	for _, bad := range []string{"", "   ", "AB/12", "AB.12"} {
		if _, err := NormalizeCode(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("code %q: expected validation error, got %v", bad, err)
		}
	}
	for _, bad := range []string{"", "  ", "a/b", "a.b", "a#b", "a$b", "a[b]", "this-name-is-way-too-long-for-a-lobby-member"} {
		if _, err := NormalizeName(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("name %q: expected validation error, got %v", bad, err)
		}
	}
	if name, err := NormalizeName(" Alice "); err != nil || name != "Alice" {
		t.Fatalf("expected Alice, got %q (%v)", name, err)
	}
}

func TestLookupFeeling(t *testing.T) {
	cases := map[string]string{
		"1":     "😊",
		"12":    "😭",
		"love":  "😍",
		"Party": "🥳",
		"🤔":     "🤔",
	}
	for input, want := range cases {
		f, ok := LookupFeeling(input)
		if !ok || f.Emoji != want {
			t.Errorf("%q: expected %s, got %+v (ok=%v)", input, want, f, ok)
		}
	}
	for _, bad := range []string{"", "0", "13", "meh"} {
		if _, ok := LookupFeeling(bad); ok {
			t.Errorf("%q should not resolve", bad)
		}
	}
}
