package router

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/offline"
	"github.com/go-i2p/go-stanzarouter/lib/presence"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/stretchr/testify/require"
)

var (
	alice   = jid.MustParse("alice@example.org")
	bob     = jid.MustParse("bob@example.org/desk")
	remote  = jid.MustParse("carol@elsewhere.net")
	errBoom = errors.New("boom")
)

func res(id string, priority int8) presence.Resource {
	return presence.Resource{ID: jid.MustParse(id), Priority: priority}
}

func newDirectory(t *testing.T, resources ...presence.Resource) *presence.MemoryDirectory {
	t.Helper()
	dir := presence.NewMemoryDirectory()
	for _, r := range resources {
		require.NoError(t, dir.Put(r))
	}
	return dir
}

func chat(from, to jid.ID, body string) *stanza.Stanza {
	return stanza.New(stanza.TypeChat, from, to, []byte(body))
}

// sendCall is one recorded Dispatcher.Send invocation.
type sendCall struct {
	stanza  *stanza.Stanza
	targets []jid.ID
}

// fakeDispatcher records every Send and fails targets as decided by fail,
// which receives the zero-based index of the call.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []sendCall
	fail  func(call int, target jid.ID) error
}

func (d *fakeDispatcher) Send(_ context.Context, st *stanza.Stanza, targets []jid.ID) map[jid.ID]error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.calls)
	d.calls = append(d.calls, sendCall{stanza: st, targets: slices.Clone(targets)})

	failures := make(map[jid.ID]error)
	if d.fail == nil {
		return failures
	}
	for _, target := range targets {
		if err := d.fail(n, target); err != nil {
			failures[target] = err
		}
	}
	return failures
}

func (d *fakeDispatcher) recorded() []sendCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

func failAll(err error) func(int, jid.ID) error {
	return func(int, jid.ID) error { return err }
}

// failCalls fails every target of the first n calls.
func failCalls(n int, err error) func(int, jid.ID) error {
	return func(call int, _ jid.ID) error {
		if call < n {
			return err
		}
		return nil
	}
}

// blockingDispatcher waits for the attempt context to end.
type blockingDispatcher struct{}

func (blockingDispatcher) Send(ctx context.Context, _ *stanza.Stanza, targets []jid.ID) map[jid.ID]error {
	<-ctx.Done()
	failures := make(map[jid.ID]error, len(targets))
	for _, t := range targets {
		failures[t] = ctx.Err()
	}
	return failures
}

// recordingResponder collects error replies.
type recordingResponder struct {
	mu      sync.Mutex
	replies []*stanza.Stanza
}

func (r *recordingResponder) Respond(_ context.Context, reply *stanza.Stanza) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply)
	return nil
}

func (r *recordingResponder) recorded() []*stanza.Stanza {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.replies)
}

// pushCall is one recorded PushStanza invocation.
type pushCall struct {
	owner jid.ID
	ts    stanza.TimedStanza
}

// recordingStorage wraps a real store, recording pushes and optionally
// failing them.
type recordingStorage struct {
	offline.Storage

	mu      sync.Mutex
	pushes  []pushCall
	pushErr error
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{Storage: offline.NewMemoryStore(0)}
}

func (s *recordingStorage) PushStanza(ctx context.Context, owner jid.ID, ts stanza.TimedStanza) error {
	s.mu.Lock()
	s.pushes = append(s.pushes, pushCall{owner: owner, ts: ts})
	err := s.pushErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Storage.PushStanza(ctx, owner, ts)
}

func (s *recordingStorage) recorded() []pushCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pushes)
}

// panickingStorage panics on every pop.
type panickingStorage struct {
	offline.Storage
}

func (panickingStorage) PopStanzas(context.Context, jid.ID) ([]stanza.TimedStanza, error) {
	panic("storage exploded")
}

type failingDirectory struct{}

func (failingDirectory) Get(context.Context, jid.ID) (jid.IDMap[presence.Resource], error) {
	return jid.IDMap[presence.Resource]{}, errBoom
}

// fakeAccounts answers from a fixed set and counts lookups.
type fakeAccounts struct {
	mu      sync.Mutex
	known   map[jid.ID]bool
	lookups int
	err     error
}

func (a *fakeAccounts) Exists(_ context.Context, owner jid.ID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lookups++
	if a.err != nil {
		return false, a.err
	}
	return a.known[owner], nil
}

type fakeRoster map[jid.ID][]jid.ID

func (r fakeRoster) Subscribers(_ context.Context, owner jid.ID) ([]jid.ID, error) {
	return r[owner], nil
}

type fakeOutbound struct {
	mu   sync.Mutex
	sent []*stanza.Stanza
	err  error
}

func (o *fakeOutbound) Send(_ context.Context, st *stanza.Stanza) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, st)
	return o.err
}

// recordingReporter collects panics reported by the listener.
type recordingReporter struct {
	mu     sync.Mutex
	where  []string
	panics []any
}

func (r *recordingReporter) ReportPanic(where string, recovered any, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.where = append(r.where, where)
	r.panics = append(r.panics, recovered)
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}
