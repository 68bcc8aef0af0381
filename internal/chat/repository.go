// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Persister receives every persistent state change. *session.Scheduler
// implements it.
type Persister interface {
	Trigger(snap *model.Snapshot)
}

// Loader supplies the state to hydrate from. Every storage.Adapter
// implements it.
type Loader interface {
	Load(ctx context.Context) (*model.Snapshot, bool)
}

type nopPersister struct{}

func (nopPersister) Trigger(*model.Snapshot) {}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository is the single source of truth for conversations, selection and
// in-flight request state. All mutations run under one mutex on
// copy-on-write state: a published *model.Snapshot is never modified again,
// so readers and the persister always see a whole snapshot.
type Repository struct {
	mu    sync.Mutex
	state *model.Snapshot

	// Transient per-conversation request state. A buffer entry exists
	// exactly when inFlight is set for the same id.
	buffers  map[string]string
	inFlight map[string]bool
	notices  map[string]string

	// titlesDerived guards the derivation pass on Load.
	titlesDerived bool

	persist    Persister
	titleRunes int
	now        func() time.Time
	log        zerolog.Logger

	subs    map[int]chan struct{}
	nextSub int
}

// Option configures a Repository.
type Option func(*Repository)

// WithPersister routes persistent changes to p.
func WithPersister(p Persister) Option {
	return func(r *Repository) {
		if p != nil {
			r.persist = p
		}
	}
}

// WithTitleRunes sets the automatic title budget.
func WithTitleRunes(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.titleRunes = n
		}
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repository) {
		r.log = logger
	}
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepository creates an empty repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		state:      model.EmptySnapshot(),
		buffers:    make(map[string]string),
		inFlight:   make(map[string]bool),
		notices:    make(map[string]string),
		persist:    nopPersister{},
		titleRunes: model.DefaultTitleRunes,
		now:        model.Now,
		log:        zerolog.Nop(),
		subs:       make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// MUTATION PLUMBING
// =============================================================================

// next returns a copy of the current snapshot whose conversation slice and
// selection can be changed freely. Conversation values are copied; their
// message slices are shared and must be replaced, never written.
func (r *Repository) next() *model.Snapshot {
	s := &model.Snapshot{Conversations: make([]model.Conversation, len(r.state.Conversations))}
	copy(s.Conversations, r.state.Conversations)
	if r.state.CurrentID != nil {
		id := *r.state.CurrentID
		s.CurrentID = &id
	}
	return s
}

// commit publishes s. Must be called with r.mu held.
func (r *Repository) commit(s *model.Snapshot) {
	r.state = s
	r.persist.Trigger(s)
	r.notify()
}

// notify wakes subscribers without blocking. Must be called with r.mu held.
func (r *Repository) notify() {
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// appendTo appends msgs to conversation c in place of its message slice and
// derives the title while it is still the default.
func (r *Repository) appendTo(c *model.Conversation, msgs []model.Message) {
	now := r.now()
	out := make([]model.Message, len(c.Messages), len(c.Messages)+len(msgs))
	copy(out, c.Messages)
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = model.NewID()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		out = append(out, m)
	}
	c.Messages = out
	c.UpdatedAt = now.UnixMilli()
	if c.HasDefaultTitle() {
		if title, ok := model.DeriveTitle(c.Messages, r.titleRunes); ok {
			c.Title = title
		}
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SelectConversation selects id, or clears the selection when id is nil.
// Unknown ids are ignored.
func (r *Repository) SelectConversation(id *string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == nil {
		if r.state.CurrentID == nil {
			return
		}
		s := r.next()
		s.CurrentID = nil
		r.commit(s)
		return
	}
	if r.state.Index(*id) < 0 {
		return
	}
	if r.state.CurrentID != nil && *r.state.CurrentID == *id {
		return
	}
	s := r.next()
	sel := *id
	s.CurrentID = &sel
	r.commit(s)
}

// CreateConversation adds an empty conversation at the front and selects it.
func (r *Repository) CreateConversation() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := model.NewConversation(model.NewID(), r.now())
	s := r.next()
	s.Conversations = append([]model.Conversation{conv}, s.Conversations...)
	id := conv.ID
	s.CurrentID = &id
	r.commit(s)

	r.log.Debug().Str("conversation", id).Msg("conversation created")
	return id
}

// DeleteConversation removes id. Deleting the selected conversation selects
// the newest remaining one, or nothing when none remain. A request still in
// flight for id keeps running; its result is discarded.
func (r *Repository) DeleteConversation(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.state.Index(id)
	if idx < 0 {
		return
	}
	s := r.next()
	s.Conversations = append(s.Conversations[:idx], s.Conversations[idx+1:]...)
	if s.CurrentID != nil && *s.CurrentID == id {
		s.CurrentID = nil
		if len(s.Conversations) > 0 {
			first := s.Conversations[0].ID
			s.CurrentID = &first
		}
	}
	delete(r.notices, id)
	r.commit(s)

	r.log.Debug().Str("conversation", id).Msg("conversation deleted")
}

// AppendMessages appends msgs to conversation id. Missing message ids and
// timestamps are filled in.
func (r *Repository) AppendMessages(id string, msgs ...model.Message) {
	if len(msgs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.state.Index(id)
	if idx < 0 {
		return
	}
	s := r.next()
	r.appendTo(&s.Conversations[idx], msgs)
	r.commit(s)
}

// RenameConversation sets an explicit title. Blank titles are ignored.
func (r *Repository) RenameConversation(id, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	r.update(id, func(c *model.Conversation) bool {
		if c.Title == title && c.Named {
			return false
		}
		c.Title = title
		c.Named = true
		return true
	})
}

// SetFavorite marks or unmarks a conversation.
func (r *Repository) SetFavorite(id string, favorite bool) {
	r.update(id, func(c *model.Conversation) bool {
		if c.Favorite == favorite {
			return false
		}
		c.Favorite = favorite
		return true
	})
}

// SetModel sets the model used for future requests in id. An empty model
// falls back to the client default.
func (r *Repository) SetModel(id, modelName string) {
	modelName = strings.TrimSpace(modelName)
	r.update(id, func(c *model.Conversation) bool {
		if c.Model == modelName {
			return false
		}
		c.Model = modelName
		return true
	})
}

// update applies fn to a copy of conversation id and commits when fn
// reports a change.
func (r *Repository) update(id string, fn func(c *model.Conversation) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.state.Index(id)
	if idx < 0 {
		return
	}
	s := r.next()
	if !fn(&s.Conversations[idx]) {
		return
	}
	r.commit(s)
}

// ClearAll removes every conversation. Requests in flight keep running and
// their results are discarded.
func (r *Repository) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notices = make(map[string]string)
	r.commit(model.EmptySnapshot())
	r.log.Info().Msg("all conversations cleared")
}

// Load replaces the state with what l holds. Absent or unreadable data yields
// an empty state. Conversations still carrying the default title get their
// title derived on the first Load only.
func (r *Repository) Load(ctx context.Context, l Loader) {
	snap, ok := l.Load(ctx)
	if !ok || snap == nil {
		snap = model.EmptySnapshot()
	} else {
		snap = clone.Clone(snap).(*model.Snapshot)
		snap.Sanitize()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	renamed := 0
	if !r.titlesDerived {
		r.titlesDerived = true
		for i := range snap.Conversations {
			c := &snap.Conversations[i]
			if !c.HasDefaultTitle() {
				continue
			}
			if title, ok := model.DeriveTitle(c.Messages, r.titleRunes); ok {
				c.Title = title
				renamed++
			}
		}
	}

	r.state = snap
	r.notices = make(map[string]string)
	if renamed > 0 {
		r.persist.Trigger(snap)
	}
	r.notify()

	r.log.Info().
		Int("conversations", len(snap.Conversations)).
		Int("titles_derived", renamed).
		Msg("conversations loaded")
}

// =============================================================================
// REQUEST STATE
// =============================================================================

// turn is what a request needs from the moment it was accepted.
type turn struct {
	history    []model.Message
	model      string
	wantsReply bool
}

// BeginSend appends msg to id and, unless msg skips the reply, marks id as
// in flight with an empty buffer. The in-flight check and both updates
// happen in one critical section. accepted is false for unknown ids and
// for conversations that already have a request in flight.
func (r *Repository) BeginSend(id string, msg model.Message) (wantsReply, accepted bool) {
	t, ok := r.beginSend(id, msg)
	return t.wantsReply, ok
}

func (r *Repository) beginSend(id string, msg model.Message) (turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.state.Index(id)
	if idx < 0 || r.inFlight[id] {
		return turn{}, false
	}
	s := r.next()
	c := &s.Conversations[idx]
	r.appendTo(c, []model.Message{msg})
	delete(r.notices, id)

	t := turn{history: c.Messages, model: c.Model, wantsReply: !msg.SkipReply}
	if t.wantsReply {
		r.inFlight[id] = true
		r.buffers[id] = ""
	}
	r.commit(s)
	return t, true
}

// AppendDelta adds streamed text to the buffer of id. Deltas for
// conversations without a request in flight are dropped. Buffer changes
// are not persisted.
func (r *Repository) AppendDelta(id, delta string) {
	if delta == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inFlight[id] {
		return
	}
	r.buffers[id] += delta
	r.notify()
}

// FinishRequest concludes the request for id: reply (if any) is appended
// when the conversation still exists, failure (if any) becomes the notice,
// and the buffer and in-flight flag are removed together.
func (r *Repository) FinishRequest(id string, reply *model.Message, failure string) {
	r.finish(id, reply, failure, "")
}

func (r *Repository) finish(id string, reply *model.Message, failure, modelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.buffers, id)
	delete(r.inFlight, id)

	idx := r.state.Index(id)
	if idx < 0 {
		r.notify()
		return
	}
	if failure != "" {
		r.notices[id] = failure
	}
	if reply == nil {
		r.notify()
		return
	}
	s := r.next()
	c := &s.Conversations[idx]
	r.appendTo(c, []model.Message{*reply})
	if c.Model == "" && modelName != "" {
		c.Model = modelName
	}
	r.commit(s)
}

// =============================================================================
// READS
// =============================================================================

// View is one conversation together with its transient request state.
type View struct {
	Conversation model.Conversation
	// Buffer is the reply text streamed so far; meaningful while InFlight.
	Buffer   string
	InFlight bool
	// Notice is the most recent failure text, cleared by the next send.
	Notice string
}

// State returns a deep copy of the current snapshot.
func (r *Repository) State() *model.Snapshot {
	r.mu.Lock()
	s := r.state
	r.mu.Unlock()
	return clone.Clone(s).(*model.Snapshot)
}

// Conversation returns a copy of conversation id.
func (r *Repository) Conversation(id string) (model.Conversation, bool) {
	r.mu.Lock()
	c := r.state.Find(id)
	r.mu.Unlock()
	if c == nil {
		return model.Conversation{}, false
	}
	return clone.Clone(*c).(model.Conversation), true
}

// View returns conversation id with its buffer, in-flight flag and notice,
// all read at the same instant.
func (r *Repository) View(id string) (View, bool) {
	r.mu.Lock()
	c := r.state.Find(id)
	if c == nil {
		r.mu.Unlock()
		return View{}, false
	}
	v := View{
		Conversation: *c,
		Buffer:       r.buffers[id],
		InFlight:     r.inFlight[id],
		Notice:       r.notices[id],
	}
	r.mu.Unlock()
	v.Conversation = clone.Clone(v.Conversation).(model.Conversation)
	return v, true
}

// Current returns the selected conversation.
func (r *Repository) Current() (model.Conversation, bool) {
	id := r.CurrentID()
	if id == "" {
		return model.Conversation{}, false
	}
	return r.Conversation(id)
}

// CurrentID returns the selected id, or "" when nothing is selected.
func (r *Repository) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.CurrentID == nil {
		return ""
	}
	return *r.state.CurrentID
}

// InFlight reports whether id has a request outstanding.
func (r *Repository) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[id]
}

// Buffer returns the streamed text for id and whether a request is in flight.
func (r *Repository) Buffer(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[id]
	return buf, ok
}

// Notice returns the last failure text for id.
func (r *Repository) Notice(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notices[id]
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce; a receiver reads the latest state on wake-up.
// Call cancel to unsubscribe.
func (r *Repository) Subscribe() (<-chan struct{}, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.nextSub
	r.nextSub++
	ch := make(chan struct{}, 1)
	r.subs[key] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, key)
			r.mu.Unlock()
		})
	}
	return ch, cancel
}
