// Package reply correlates inbound CoAP replies with outstanding requests by token.
//
// The registry is a bounded table keyed by token. When it is full, the
// configured Policy decides between overwriting the oldest pending entry and
// rejecting the registration; entries are never dropped implicitly.
package reply

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/pkg/cache"
	"go.uber.org/atomic"
)

var (
	ErrRegistryFull = errors.New("reply registry is full")
	ErrNoReply      = errors.New("no reply received")
	ErrInvalidToken = errors.New("invalid token")
	ErrNilHandler   = errors.New("nil reply handler")
)

type (
	// Handler is invoked at most once with the matched reply, its entry and the sender address.
	Handler = func(r *message.Message, e *Entry, from *net.UDPAddr) error
	// NoReplyFunc is invoked when an entry expires without a reply.
	NoReplyFunc = func(e *Entry, err error)
	// EvictFunc is invoked when a pending entry is overwritten by a new registration.
	EvictFunc = func(e *Entry)
)

type Policy int

const (
	// PolicyOverwrite evicts the oldest pending entry when the registry is full.
	PolicyOverwrite Policy = iota
	// PolicyReject refuses new registrations when the registry is full.
	PolicyReject
)

func (p Policy) String() string {
	switch p {
	case PolicyOverwrite:
		return "overwrite"
	case PolicyReject:
		return "reject"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts the textual form used in configuration files.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "overwrite":
		return PolicyOverwrite, nil
	case "reject":
		return PolicyReject, nil
	}
	return PolicyOverwrite, fmt.Errorf("invalid reply policy %q", s)
}

type Config struct {
	// Capacity is the maximum number of pending entries, values below 1 mean 1.
	Capacity int
	Policy   Policy
	// ReplyTimeout bounds the wait for a reply. Zero waits forever.
	ReplyTimeout time.Duration
	OnEvict      EvictFunc
	// OnExpire is invoked for every entry removed by CheckExpirations, before its NoReplyFunc.
	OnExpire EvictFunc
}

type Entry struct {
	token    message.Token
	handler  Handler
	noReply  NoReplyFunc
	created  time.Time
	deadline time.Time
	seq      uint64
}

func (e *Entry) Token() message.Token {
	return e.token
}

// Created returns the registration time.
func (e *Entry) Created() time.Time {
	return e.created
}

// Deadline returns the time the entry expires, zero when it never does.
func (e *Entry) Deadline() time.Time {
	return e.deadline
}

// Handle invokes the reply handler of the entry.
func (e *Entry) Handle(r *message.Message, from *net.UDPAddr) error {
	return e.handler(r, e, from)
}

func (e *Entry) expire() {
	if e.noReply != nil {
		e.noReply(e, fmt.Errorf("token %v: %w", e.token, ErrNoReply))
	}
}

// EntryOption customizes a single registration.
type EntryOption interface {
	applyEntry(e *Entry, now time.Time)
}

type noReplyOpt struct {
	f NoReplyFunc
}

func (o noReplyOpt) applyEntry(e *Entry, _ time.Time) {
	e.noReply = o.f
}

// WithNoReply sets the function called when the entry expires without a reply.
func WithNoReply(f NoReplyFunc) EntryOption {
	return noReplyOpt{f: f}
}

type timeoutOpt struct {
	d time.Duration
}

func (o timeoutOpt) applyEntry(e *Entry, now time.Time) {
	if o.d <= 0 {
		e.deadline = time.Time{}
		return
	}
	e.deadline = now.Add(o.d)
}

// WithTimeout overrides the registry reply timeout for one entry. Zero waits forever.
func WithTimeout(d time.Duration) EntryOption {
	return timeoutOpt{d: d}
}

type Registry struct {
	cfg     Config
	mutex   sync.Mutex
	seq     atomic.Uint64
	entries *cache.Cache[string, *Entry]
}

func New(cfg Config) *Registry {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.OnEvict == nil {
		cfg.OnEvict = func(*Entry) {
			// default no-op
		}
	}
	if cfg.OnExpire == nil {
		cfg.OnExpire = func(*Entry) {
			// default no-op
		}
	}
	return &Registry{
		cfg:     cfg,
		entries: cache.NewCache[string, *Entry](),
	}
}

func (r *Registry) Capacity() int {
	return r.cfg.Capacity
}

func (r *Registry) oldestLocked() (string, bool) {
	var key string
	var oldest *Entry
	r.entries.Range(func(k string, e *cache.Element[*Entry]) bool {
		if oldest == nil || e.Data().seq < oldest.seq {
			key = k
			oldest = e.Data()
		}
		return true
	})
	return key, oldest != nil
}

// Register adds a pending entry for token. A pending entry with the same
// token is always replaced; when the registry is full the oldest entry is
// evicted (PolicyOverwrite) or ErrRegistryFull is returned (PolicyReject).
// Evicted handlers are never invoked, OnEvict is called for them instead.
func (r *Registry) Register(token message.Token, h Handler, opts ...EntryOption) (*Entry, error) {
	if len(token) == 0 || len(token) > message.MaxTokenSize {
		return nil, ErrInvalidToken
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	now := time.Now()
	e := &Entry{
		token:   append(message.Token(nil), token...),
		handler: h,
		created: now,
		seq:     r.seq.Inc(),
	}
	if r.cfg.ReplyTimeout > 0 {
		e.deadline = now.Add(r.cfg.ReplyTimeout)
	}
	for _, o := range opts {
		o.applyEntry(e, now)
	}

	var evicted []*Entry
	r.mutex.Lock()
	// entries past their deadline are reported as expired, never evicted
	expired := r.entries.PullOutExpired(now)
	key := string(e.token)
	if _, ok := r.entries.Load(key); !ok && r.entries.Length() >= r.cfg.Capacity {
		if r.cfg.Policy == PolicyReject {
			r.mutex.Unlock()
			r.expireAll(expired)
			return nil, ErrRegistryFull
		}
		if oldestKey, ok := r.oldestLocked(); ok {
			if old, ok := r.entries.PullOut(oldestKey); ok {
				evicted = append(evicted, old.Data())
			}
		}
	}
	if old, ok := r.entries.Store(key, cache.NewElement(e, e.deadline, r.expire)); ok {
		evicted = append(evicted, old.Data())
	}
	r.mutex.Unlock()

	r.expireAll(expired)
	for _, old := range evicted {
		r.cfg.OnEvict(old)
	}
	return e, nil
}

func (r *Registry) expireAll(elements []*cache.Element[*Entry]) {
	for _, el := range elements {
		el.Expire()
	}
}

func (r *Registry) expire(e *Entry) {
	r.cfg.OnExpire(e)
	e.expire()
}

// IsReply reports whether msg can answer a request.
func IsReply(msg *message.Message) bool {
	return msg != nil && msg.Code.IsResponse()
}

// MatchAndConsume removes and returns the entry whose token equals the token
// of the reply. Without a match the registry is left untouched. An entry
// whose deadline already passed does not match.
func (r *Registry) MatchAndConsume(msg *message.Message) (*Entry, bool) {
	if !IsReply(msg) || len(msg.Token) == 0 {
		return nil, false
	}
	key := string(msg.Token)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if e, _ := r.entries.Load(key); e == nil {
		return nil, false
	}
	e, ok := r.entries.PullOut(key)
	if !ok {
		return nil, false
	}
	return e.Data(), true
}

// Unregister removes the entry for token without invoking any of its callbacks.
func (r *Registry) Unregister(token message.Token) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.entries.Delete(string(token))
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	return r.entries.Length()
}

// CheckExpirations removes entries whose deadline passed and reports ErrNoReply for them.
func (r *Registry) CheckExpirations(now time.Time) {
	r.mutex.Lock()
	expired := r.entries.PullOutExpired(now)
	r.mutex.Unlock()
	r.expireAll(expired)
}

// Drain removes all pending entries and reports ErrNoReply to their NoReplyFunc.
// OnExpire is not called since the entries did not time out.
func (r *Registry) Drain() int {
	r.mutex.Lock()
	pending := r.entries.PullOutAll()
	r.mutex.Unlock()
	for _, e := range pending {
		e.expire()
	}
	return len(pending)
}
