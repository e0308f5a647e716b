package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolewarden/internal/audit"
	"github.com/terraconstructs/rolewarden/internal/config"
	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/policy"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func roles(ids ...platform.RoleID) []platform.RoleID { return ids }

func mustPolicy(t *testing.T, cfg config.PolicyConfig) *policy.Policy {
	t.Helper()
	p, err := policy.New(cfg)
	require.NoError(t, err)
	return p
}

// rankPolicy: exclusive group "rank" {10,20,30}; 99 requires 10 or 20.
func rankPolicy(t *testing.T) *policy.Policy {
	return mustPolicy(t, config.PolicyConfig{
		Roles: []config.RoleConfig{
			{ID: "10", Name: "Bronze"},
			{ID: "20", Name: "Silver"},
			{ID: "30", Name: "Gold"},
			{ID: "99", Name: "Veteran"},
		},
		ExclusiveGroups: []config.GroupConfig{
			{Name: "rank", Roles: []string{"10", "20", "30"}},
		},
		Dependencies: []config.DependencyConfig{
			{Role: "99", Requires: []string{"10", "20"}},
		},
	})
}

type mutationCall struct {
	Member platform.MemberID
	Roles  []platform.RoleID
	Reason string
}

// fakeMutator records calls. Each call consumes the next scripted response;
// without one every requested role is confirmed.
type fakeMutator struct {
	mu        sync.Mutex
	calls     []mutationCall
	responses []func(roles []platform.RoleID) ([]platform.RoleID, error)
}

func (m *fakeMutator) script(fns ...func(roles []platform.RoleID) ([]platform.RoleID, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, fns...)
}

func (m *fakeMutator) RemoveRoles(_ context.Context, member platform.MemberID, ids []platform.RoleID, reason string) ([]platform.RoleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mutationCall{Member: member, Roles: append([]platform.RoleID(nil), ids...), Reason: reason})
	if len(m.responses) == 0 {
		return ids, nil
	}
	fn := m.responses[0]
	m.responses = m.responses[1:]
	return fn(ids)
}

func (m *fakeMutator) Calls() []mutationCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mutationCall(nil), m.calls...)
}

// memStore is an in-memory audit.Store.
type memStore struct {
	mu      sync.Mutex
	records map[platform.MemberID]audit.Record
	err     error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[platform.MemberID]audit.Record)}
}

func (s *memStore) Record(_ context.Context, member platform.MemberID, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records[member] = rec
	return nil
}

func (s *memStore) Load(_ context.Context) (map[platform.MemberID]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[platform.MemberID]audit.Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, member platform.MemberID) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[member]
	if !ok {
		return audit.Record{}, audit.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

// MockNotifier is a testify mock of platform.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) DirectMessage(ctx context.Context, member platform.MemberID, notice platform.DirectNotice) error {
	args := m.Called(ctx, member, notice)
	return args.Error(0)
}

func (m *MockNotifier) PostLog(ctx context.Context, channel platform.ChannelID, entry platform.LogEntry) error {
	args := m.Called(ctx, channel, entry)
	return args.Error(0)
}

type coordinatorFixture struct {
	coord    *Coordinator
	mutator  *fakeMutator
	store    *memStore
	notifier *MockNotifier
}

func newFixture(t *testing.T, p *policy.Policy, opts Options, withNotifier bool) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{mutator: &fakeMutator{}, store: newMemStore()}

	deps := Dependencies{Policy: p, Mutator: f.mutator, Store: f.store}
	if withNotifier {
		f.notifier = new(MockNotifier)
		deps.Notifier = f.notifier
		deps.LogChannel = 555
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.RetryInitialInterval == 0 {
		opts.RetryInitialInterval = time.Millisecond
	}

	coord, err := NewCoordinator(deps, opts)
	require.NoError(t, err)
	f.coord = coord
	return f
}

// applyRemovals returns after minus every removed role of actions.
func applyRemovals(after []platform.RoleID, actions []Action) []platform.RoleID {
	out := after
	for _, act := range actions {
		out = difference(out, act.Removed)
	}
	return out
}
