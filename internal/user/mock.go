package user

import "context"

// MockResolver is an in-memory Resolver for tests, mirroring the fixed
// token->identity table used to exercise the subscription and router logic
// without a database.
type MockResolver struct {
	Users     map[string]Data
	ListOwner map[int64]int64
	Hashtags  map[string]int64
	Blocks    map[int64]Blocks
}

// NewMockResolver returns a resolver seeded with a single authenticated
// test user recognized by the token "TEST_USER".
func NewMockResolver() *MockResolver {
	return &MockResolver{
		Users: map[string]Data{
			"TEST_USER": {
				ID:           1,
				AllowedLangs: map[string]struct{}{},
				Scopes: map[Scope]struct{}{
					ScopeRead:          {},
					ScopeStatuses:      {},
					ScopeNotifications: {},
					ScopeLists:         {},
				},
			},
		},
		ListOwner: map[int64]int64{1: 1},
		Hashtags:  map[string]int64{"rust": 42},
		Blocks:    map[int64]Blocks{},
	}
}

func (m *MockResolver) Resolve(_ context.Context, token string, whitelistMode bool) (Data, error) {
	if token == "" {
		if whitelistMode {
			return Data{}, ErrUnauthorized
		}
		return Anonymous(), nil
	}
	data, ok := m.Users[token]
	if !ok {
		return Data{}, ErrUnauthorized
	}
	return data, nil
}

func (m *MockResolver) LoadBlocks(_ context.Context, userID int64) (Blocks, error) {
	if b, ok := m.Blocks[userID]; ok {
		return b, nil
	}
	return EmptyBlocks(), nil
}

func (m *MockResolver) HashtagID(_ context.Context, name string) (int64, error) {
	id, ok := m.Hashtags[name]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (m *MockResolver) ListIsOwnedBy(_ context.Context, listID, userID int64) (bool, error) {
	owner, ok := m.ListOwner[listID]
	return ok && owner == userID, nil
}
