package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/notify"
	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/store"
)

const (
	eventBuffer     = 32
	dispatchTimeout = 5 * time.Second
)

// State is the lifecycle of a Session.
type State int

const (
	StateUnjoined State = iota
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithMessageLimit sets how many recent messages the listener sees.
func WithMessageLimit(n int) Option {
	return func(s *Session) {
		if n > 0 && n <= MaxMessages {
			s.messageLimit = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithCodeGenerator replaces NewLobbyCode.
func WithCodeGenerator(gen func() string) Option {
	return func(s *Session) { s.newCode = gen }
}

// Session binds one user to one lobby: presence, the message stream with
// last-seen tracking, and the connected user roster.
type Session struct {
	rt       realtime.Store
	persist  store.SessionStore
	notifier notify.Notifier
	log      *zerolog.Logger

	now          func() time.Time
	newCode      func() string
	messageLimit int
	events       chan *Event

	// persistMu orders the session keys written by a join against the
	// deletes done by Leave.
	persistMu sync.Mutex

	mu       sync.Mutex
	state    State
	lobby    string
	user     string
	lastSeen string
	// gen changes on every join and leave; listener callbacks from an older
	// generation are dropped.
	gen         uint64
	// leaves counts Leave calls; a join that started before one is abandoned.
	leaves      uint64
	msgHandle   *realtime.Handle
	usersHandle *realtime.Handle
	presence    string
	roster      []Presence
	prevRoster  map[string]struct{}
	foreground  bool
	pushAllowed bool
}

// NewSession creates an unjoined session.
func NewSession(rt realtime.Store, persist store.SessionStore, notifier notify.Notifier, logger *zerolog.Logger, opts ...Option) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Session{
		rt:           rt,
		persist:      persist,
		notifier:     notifier,
		log:          logger,
		now:          time.Now,
		newCode:      NewLobbyCode,
		messageLimit: MaxMessages,
		events:       make(chan *Event, eventBuffer),
		foreground:   true,
		pushAllowed:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events streams local feedback. Events are dropped when the reader lags.
func (s *Session) Events() <-chan *Event {
	return s.events
}

func (s *Session) emit(ev *Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug().Str("kind", ev.Kind.String()).Msg("event dropped")
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Lobby() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lobby
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// LastSeen returns the id of the newest message already surfaced.
func (s *Session) LastSeen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// ConnectedUsers returns the roster from the latest presence snapshot.
func (s *Session) ConnectedUsers() []Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Presence, len(s.roster))
	copy(out, s.roster)
	return out
}

// SetForeground records whether the owner is visible to the user.
func (s *Session) SetForeground(foreground bool) {
	s.mu.Lock()
	s.foreground = foreground
	s.mu.Unlock()
}

// beginJoin moves to Joining and returns the leave count the join must
// still see when it completes. Concurrent joins are not serialised.
func (s *Session) beginJoin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateJoined {
		return 0, coreError(ErrCodeAlreadyJoined, "already joined lobby "+s.lobby)
	}
	s.state = StateJoining
	return s.leaves, nil
}

// commitJoin persists the session and moves to Joined unless Leave ran
// since beginJoin. Keys written here are removed again by that Leave, which
// waits on persistMu.
func (s *Session) commitJoin(ctx context.Context, leaves uint64, code, name, lastSeen string, persist bool) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.joinCurrent(leaves) {
		return errJoinAbandoned
	}
	if persist {
		s.persistSession(ctx, code, name)
	}
	if !s.finishJoin(leaves, code, name, lastSeen) {
		return errJoinAbandoned
	}
	return nil
}

func (s *Session) joinCurrent(leaves uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaves == leaves
}

func (s *Session) failJoin(leaves uint64) {
	s.mu.Lock()
	if s.leaves == leaves && s.state == StateJoining {
		s.state = StateUnjoined
	}
	s.mu.Unlock()
}

func (s *Session) finishJoin(leaves uint64, code, name, lastSeen string) bool {
	s.mu.Lock()
	if s.leaves != leaves {
		s.mu.Unlock()
		return false
	}
	s.state = StateJoined
	s.lobby = code
	s.user = name
	s.lastSeen = lastSeen
	s.roster = nil
	s.prevRoster = nil
	s.gen++
	s.mu.Unlock()

	s.emit(&Event{Kind: EventLobbyJoined, Lobby: code, User: name, Haptic: HapticTap})
	s.log.Info().Str("lobby", code).Str("user", name).Msg("joined lobby")
	return true
}

// CreateLobby writes a new lobby record and joins it.
func (s *Session) CreateLobby(ctx context.Context, userName string) (string, error) {
	name, err := NormalizeName(userName)
	if err != nil {
		return "", err
	}
	leaves, err := s.beginJoin()
	if err != nil {
		return "", err
	}

	code := s.newCode()
	record := LobbyRecord{Creator: name, CreatedAt: s.now().UnixMilli(), Active: true}
	if err := s.rt.Write(ctx, LobbyPath(code), record); err != nil {
		s.failJoin(leaves)
		return "", wrapError(ErrCodeStoreWrite, "failed to create lobby", err)
	}

	if err := s.commitJoin(ctx, leaves, code, name, "", true); err != nil {
		return "", err
	}
	return code, nil
}

// JoinLobby checks that the lobby exists and joins it. The check and any
// later write are not atomic.
func (s *Session) JoinLobby(ctx context.Context, userName, code string) error {
	name, err := NormalizeName(userName)
	if err != nil {
		return err
	}
	code, err = NormalizeCode(code)
	if err != nil {
		return err
	}
	leaves, err := s.beginJoin()
	if err != nil {
		return err
	}

	snap, err := s.rt.ReadOnce(ctx, LobbyPath(code))
	if err != nil {
		s.failJoin(leaves)
		return wrapError(ErrCodeStoreRead, "failed to join lobby", err)
	}
	if !snap.Exists {
		s.failJoin(leaves)
		return coreError(ErrCodeNotFound, "lobby code not found")
	}

	return s.commitJoin(ctx, leaves, code, name, "", true)
}

// Resume restores a saved session without touching the realtime store.
// It reports whether a session was found.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	code, hasLobby, err := s.persist.Get(ctx, KeyCurrentLobby)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", KeyCurrentLobby, err)
	}
	name, hasUser, err := s.persist.Get(ctx, KeyUserName)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", KeyUserName, err)
	}
	lastSeen, _, err := s.persist.Get(ctx, KeyLastMessageID)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", KeyLastMessageID, err)
	}
	if !hasLobby || !hasUser || code == "" || name == "" {
		return false, nil
	}

	leaves, err := s.beginJoin()
	if err != nil {
		return false, err
	}
	if err := s.commitJoin(ctx, leaves, code, name, lastSeen, false); err != nil {
		return false, err
	}
	return true, nil
}

// persistSession saves lobby and user. Failures are logged only.
func (s *Session) persistSession(ctx context.Context, code, name string) {
	if err := s.persist.Set(ctx, KeyUserName, name); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist user name")
	}
	if err := s.persist.Set(ctx, KeyCurrentLobby, code); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist lobby")
	}
}

// joined returns the current lobby, user and generation, or ErrNotJoined.
func (s *Session) joined() (string, string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined {
		return "", "", 0, coreError(ErrCodeNotJoined, "not joined to a lobby")
	}
	return s.lobby, s.user, s.gen, nil
}

// EnterPresence marks the user online and registers removal on disconnect.
func (s *Session) EnterPresence(ctx context.Context) error {
	code, name, _, err := s.joined()
	if err != nil {
		return err
	}

	path := UserPath(code, name)
	presence := Presence{Name: name, Online: true, LastSeen: s.now().UnixMilli()}
	if err := s.rt.Write(ctx, path, presence); err != nil {
		return wrapError(ErrCodeStoreWrite, "failed to enter presence", err)
	}
	if err := s.rt.RemoveOnDisconnect(ctx, path); err != nil {
		return wrapError(ErrCodeStoreWrite, "failed to register disconnect cleanup", err)
	}

	s.mu.Lock()
	s.presence = path
	s.mu.Unlock()
	return nil
}

// SubscribeMessages listens to the latest messages and calls onNew once per
// newest message from someone else that has not been seen yet.
func (s *Session) SubscribeMessages(ctx context.Context, onNew func(Message)) error {
	code, _, gen, err := s.joined()
	if err != nil {
		return err
	}
	s.dropSubscription(&s.msgHandle)

	handle, err := s.rt.Subscribe(ctx, MessagesPath(code), MessagesQuery(s.messageLimit), func(snap realtime.Snapshot) {
		s.handleMessages(ctx, gen, snap, onNew)
	})
	if err != nil {
		return wrapError(ErrCodeStoreRead, "failed to subscribe to messages", err)
	}
	s.keepSubscription(gen, &s.msgHandle, handle)
	return nil
}

func (s *Session) handleMessages(ctx context.Context, gen uint64, snap realtime.Snapshot, onNew func(Message)) {
	messages := DecodeMessages(snap)

	s.mu.Lock()
	if s.gen != gen || s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	latest, ok := LatestFrom(messages, s.user)
	if !ok || latest.ID == s.lastSeen {
		s.mu.Unlock()
		return
	}
	s.lastSeen = latest.ID
	s.mu.Unlock()

	if err := s.persist.Set(context.WithoutCancel(ctx), KeyLastMessageID, latest.ID); err != nil {
		s.log.Warn().Err(err).Str("message_id", latest.ID).Msg("failed to persist last seen message")
	}
	if onNew != nil {
		onNew(latest)
	}
}

// SubscribeUsers listens to the roster and calls onJoined once for every
// name that was absent from the previous snapshot.
func (s *Session) SubscribeUsers(ctx context.Context, onJoined func(name string)) error {
	code, _, gen, err := s.joined()
	if err != nil {
		return err
	}
	s.dropSubscription(&s.usersHandle)

	handle, err := s.rt.Subscribe(ctx, UsersPath(code), nil, func(snap realtime.Snapshot) {
		s.handleUsers(gen, snap, onJoined)
	})
	if err != nil {
		return wrapError(ErrCodeStoreRead, "failed to subscribe to users", err)
	}
	s.keepSubscription(gen, &s.usersHandle, handle)
	return nil
}

func (s *Session) handleUsers(gen uint64, snap realtime.Snapshot, onJoined func(string)) {
	roster := DecodeRoster(snap)

	s.mu.Lock()
	if s.gen != gen || s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	joined := DiffRoster(s.prevRoster, roster, s.user)
	s.roster = roster
	s.prevRoster = rosterNames(roster)
	s.mu.Unlock()

	if onJoined == nil {
		return
	}
	for _, name := range joined {
		onJoined(name)
	}
}

func (s *Session) keepSubscription(gen uint64, slot **realtime.Handle, handle realtime.Handle) {
	s.mu.Lock()
	if s.gen == gen {
		*slot = &handle
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Left while subscribing.
	if err := s.rt.Unsubscribe(handle); err != nil {
		s.log.Warn().Err(err).Str("path", handle.Path).Msg("unsubscribe failed")
	}
}

func (s *Session) dropSubscription(slot **realtime.Handle) {
	s.mu.Lock()
	handle := *slot
	*slot = nil
	s.mu.Unlock()

	if handle == nil {
		return
	}
	if err := s.rt.Unsubscribe(*handle); err != nil {
		s.log.Warn().Err(err).Str("path", handle.Path).Msg("unsubscribe failed")
	}
}

// SendMessage appends a feeling from the local user.
func (s *Session) SendMessage(ctx context.Context, emoji string) (Message, error) {
	code, name, _, err := s.joined()
	if err != nil {
		return Message{}, err
	}
	if err := validate.Var(emoji, "required,max=32"); err != nil {
		return Message{}, wrapError(ErrCodeValidation, "emoji required", err)
	}

	msg := Message{Emoji: emoji, From: name, Timestamp: s.now().UnixMilli()}
	id, err := s.rt.Append(ctx, MessagesPath(code), msg)
	if err != nil {
		return Message{}, wrapError(ErrCodeStoreWrite, "failed to send feeling", err)
	}
	msg.ID = id

	s.mu.Lock()
	foreground := s.foreground
	s.mu.Unlock()
	if foreground {
		s.emit(&Event{Kind: EventFeelingSent, Lobby: code, User: name, Message: &msg, Haptic: HapticTap})
	} else {
		s.emit(&Event{Kind: EventHaptic, Lobby: code, User: name, Haptic: HapticTap})
	}
	return msg, nil
}

// Leave unsubscribes both streams, removes the presence record and clears
// the persisted session. A failed removal is returned after local cleanup;
// the disconnect trigger still covers it.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnjoined {
		s.mu.Unlock()
		return nil
	}
	code := s.lobby
	presence := s.presence
	msgHandle, usersHandle := s.msgHandle, s.usersHandle
	s.state = StateUnjoined
	s.gen++
	s.leaves++
	s.lobby = ""
	s.user = ""
	s.lastSeen = ""
	s.presence = ""
	s.msgHandle = nil
	s.usersHandle = nil
	s.roster = nil
	s.prevRoster = nil
	s.mu.Unlock()

	for _, h := range []*realtime.Handle{msgHandle, usersHandle} {
		if h == nil {
			continue
		}
		if err := s.rt.Unsubscribe(*h); err != nil {
			s.log.Warn().Err(err).Str("path", h.Path).Msg("unsubscribe failed")
		}
	}

	var removeErr error
	if presence != "" {
		if err := s.rt.Remove(ctx, presence); err != nil {
			removeErr = wrapError(ErrCodeStoreWrite, "failed to remove presence", err)
		}
	}

	s.persistMu.Lock()
	for _, key := range sessionKeys {
		if err := s.persist.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to clear persisted session")
		}
	}
	s.persistMu.Unlock()

	s.emit(&Event{Kind: EventLeft, Lobby: code})
	s.log.Info().Str("lobby", code).Msg("left lobby")
	return removeErr
}

var sessionKeys = []string{KeyCurrentLobby, KeyUserName, KeyLastMessageID}

// ForgetSession clears a saved session without any realtime connection and
// returns the lobby it pointed at. A presence record left behind is removed
// by its disconnect trigger.
func ForgetSession(ctx context.Context, persist store.SessionStore) (string, bool, error) {
	code, ok, err := persist.Get(ctx, KeyCurrentLobby)
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", KeyCurrentLobby, err)
	}
	for _, key := range sessionKeys {
		if err := persist.Delete(ctx, key); err != nil {
			return code, ok, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return code, ok && code != "", nil
}

// RequestNotifications asks the notifier for permission. A refusal is not
// fatal: feelings are then only surfaced as in-app events.
func (s *Session) RequestNotifications(ctx context.Context) error {
	requester, ok := s.notifier.(notify.PermissionRequester)
	if !ok {
		return nil
	}
	err := requester.RequestPermission(ctx)

	s.mu.Lock()
	s.pushAllowed = err == nil
	s.mu.Unlock()

	if err == nil {
		return nil
	}
	if errors.Is(err, notify.ErrPermissionDenied) {
		return wrapError(ErrCodePermissionDenied, "please enable notifications to receive feelings while away", err)
	}
	return fmt.Errorf("request notification permission: %w", err)
}

// Start runs the joined lobby: presence plus both listeners with the
// default notification handlers.
func (s *Session) Start(ctx context.Context) error {
	if err := s.EnterPresence(ctx); err != nil {
		return err
	}
	if err := s.SubscribeMessages(ctx, s.onFeeling); err != nil {
		return err
	}
	return s.SubscribeUsers(ctx, s.onUserJoined)
}

func (s *Session) onFeeling(msg Message) {
	s.mu.Lock()
	code, foreground := s.lobby, s.foreground
	s.mu.Unlock()

	s.push("💕 New Feeling", fmt.Sprintf("%s sent you %s", msg.From, msg.Emoji))
	if foreground {
		s.emit(&Event{Kind: EventFeelingReceived, Lobby: code, User: msg.From, Message: &msg, Haptic: HapticPulse})
	}
}

func (s *Session) onUserJoined(name string) {
	s.mu.Lock()
	code := s.lobby
	s.mu.Unlock()

	s.push("👋 User Joined", fmt.Sprintf("%s joined the lobby", name))
	s.emit(&Event{Kind: EventUserJoined, Lobby: code, User: name})
}

// push dispatches a notification unless permission was refused.
func (s *Session) push(title, body string) {
	s.mu.Lock()
	allowed := s.pushAllowed
	s.mu.Unlock()
	if !allowed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := s.notifier.Dispatch(ctx, title, body); err != nil {
		s.log.Warn().Err(err).Str("title", title).Msg("notification dispatch failed")
	}
}
