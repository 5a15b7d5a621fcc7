package core

import (
	"math/rand"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/feelings/internal/realtime"
)

const (
	// MaxMessages is how many recent feelings a lobby listener sees.
	MaxMessages = 50

	LobbiesRoot = "lobbies"
	UsersKey    = "users"
	MessagesKey = "messages"

	codeLength   = 6
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Persisted session keys.
const (
	KeyCurrentLobby  = "currentLobby"
	KeyUserName      = "userName"
	KeyLastMessageID = "lastMessageId"
)

var validate = validator.New()

// LobbyRecord is the metadata stored at lobbies/{code}.
type LobbyRecord struct {
	Creator   string `json:"creator"`
	CreatedAt int64  `json:"createdAt"`
	Active    bool   `json:"active"`
}

// Presence is stored at lobbies/{code}/users/{name}.
type Presence struct {
	Name     string `json:"name"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}

// Message is one feeling. ID is the store generated key and is not part of
// the stored record.
type Message struct {
	ID        string `json:"-"`
	Emoji     string `json:"emoji"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
}

func LobbyPath(code string) string {
	return realtime.Join(LobbiesRoot, code)
}

func UsersPath(code string) string {
	return realtime.Join(LobbiesRoot, code, UsersKey)
}

func UserPath(code, name string) string {
	return realtime.Join(LobbiesRoot, code, UsersKey, name)
}

func MessagesPath(code string) string {
	return realtime.Join(LobbiesRoot, code, MessagesKey)
}

// MessagesQuery selects the latest limit messages by timestamp.
func MessagesQuery(limit int) *realtime.Query {
	if limit <= 0 || limit > MaxMessages {
		limit = MaxMessages
	}
	return &realtime.Query{OrderByChild: "timestamp", LimitToLast: limit}
}

// NewLobbyCode returns a random code. Uniqueness is not checked.
func NewLobbyCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode upper-cases a user supplied lobby code and checks it is
// usable as a path segment.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := validate.Var(code, "required,alphanum,max=32"); err != nil {
		return "", wrapError(ErrCodeValidation, "code required", err)
	}
	return code, nil
}

// NormalizeName trims a user name and checks it is usable as a path segment.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validate.Var(name, "required,max=32,excludesall=/.#$[]"); err != nil {
		return "", wrapError(ErrCodeValidation, "name required", err)
	}
	return name, nil
}

// DecodeMessages converts a messages snapshot into feelings in snapshot
// order. Malformed entries are skipped.
func DecodeMessages(snap realtime.Snapshot) []Message {
	children := snap.Children()
	out := make([]Message, 0, len(children))
	for _, child := range children {
		var msg Message
		if err := child.Decode(&msg); err != nil {
			continue
		}
		msg.ID = child.Key()
		out = append(out, msg)
	}
	return out
}

// DecodeRoster converts a users snapshot into presence records.
func DecodeRoster(snap realtime.Snapshot) []Presence {
	children := snap.Children()
	out := make([]Presence, 0, len(children))
	for _, child := range children {
		var p Presence
		if err := child.Decode(&p); err != nil {
			continue
		}
		if p.Name == "" {
			p.Name = child.Key()
		}
		out = append(out, p)
	}
	return out
}

// LatestFrom picks the newest message not sent by self. On equal timestamps
// the earlier entry in messages wins.
func LatestFrom(messages []Message, self string) (Message, bool) {
	var (
		latest Message
		found  bool
	)
	for _, msg := range messages {
		if msg.From == self {
			continue
		}
		if !found || msg.Timestamp > latest.Timestamp {
			latest = msg
			found = true
		}
	}
	return latest, found
}

// DiffRoster returns names in current that were not in previous, skipping self.
func DiffRoster(previous map[string]struct{}, current []Presence, self string) []string {
	var joined []string
	for _, p := range current {
		if p.Name == self {
			continue
		}
		if _, seen := previous[p.Name]; !seen {
			joined = append(joined, p.Name)
		}
	}
	return joined
}

func rosterNames(roster []Presence) map[string]struct{} {
	names := make(map[string]struct{}, len(roster))
	for _, p := range roster {
		names[p.Name] = struct{}{}
	}
	return names
}
