// Package user resolves bearer tokens to identities, scopes and block
// lists, backed by the relational database behind the social-network
// instance.
package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Scope is a permission token carried by an authenticated user.
type Scope string

const (
	ScopeRead          Scope = "read"
	ScopeStatuses      Scope = "statuses"
	ScopeNotifications Scope = "notifications"
	ScopeLists         Scope = "lists"
)

// AnonymousID is the identity used when no access token was supplied and
// whitelist mode is off.
const AnonymousID int64 = -1

// Data describes a resolved user.
type Data struct {
	ID           int64
	AllowedLangs map[string]struct{}
	Scopes       map[Scope]struct{}
}

// HasScope reports whether the user carries the given scope.
func (d Data) HasScope(s Scope) bool {
	_, ok := d.Scopes[s]
	return ok
}

// Anonymous is the UserData used for unauthenticated, non-whitelisted access.
func Anonymous() Data {
	return Data{
		ID:           AnonymousID,
		AllowedLangs: map[string]struct{}{},
		Scopes:       map[Scope]struct{}{},
	}
}

// Blocks holds the block relationships that filter delivery downstream of
// the router core.
type Blocks struct {
	BlockingUsers  map[int64]struct{}
	BlockedUsers   map[int64]struct{}
	BlockedDomains map[string]struct{}
}

// EmptyBlocks returns a Blocks value with no relationships recorded.
func EmptyBlocks() Blocks {
	return Blocks{
		BlockingUsers:  map[int64]struct{}{},
		BlockedUsers:   map[int64]struct{}{},
		BlockedDomains: map[string]struct{}{},
	}
}

// ErrUnauthorized is returned when a token fails to resolve to a user.
var ErrUnauthorized = errors.New("user: unauthorized")

// ErrNotFound is returned for lookups (hashtags, lists) that don't resolve.
var ErrNotFound = errors.New("user: not found")

// Resolver is the capability SubscriptionResolver consumes to turn a
// request's access token into an identity, and to answer the auxiliary
// questions (block lists, hashtag ids, list ownership) a subscription needs.
type Resolver interface {
	Resolve(ctx context.Context, token string, whitelistMode bool) (Data, error)
	LoadBlocks(ctx context.Context, userID int64) (Blocks, error)
	HashtagID(ctx context.Context, name string) (int64, error)
	ListIsOwnedBy(ctx context.Context, listID, userID int64) (bool, error)
}

// PostgresResolver is the production Resolver, backed by the instance's
// relational database.
type PostgresResolver struct {
	db *sql.DB
}

// NewPostgresResolver wraps an open database handle.
func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// Resolve looks up the user owning an access token. With no token and
// whitelist mode on, access is denied; with no token and whitelist mode
// off, the anonymous user is returned; otherwise the token is looked up
// and an unknown token is unauthorized.
func (r *PostgresResolver) Resolve(ctx context.Context, token string, whitelistMode bool) (Data, error) {
	if token == "" {
		if whitelistMode {
			return Data{}, ErrUnauthorized
		}
		return Anonymous(), nil
	}

	var (
		id     int64
		langs  pq.StringArray
		scopes pq.StringArray
	)
	const q = `
		SELECT users.id, users.allowed_langs, oauth_access_tokens.scopes
		FROM oauth_access_tokens
		JOIN users ON users.id = oauth_access_tokens.resource_owner_id
		WHERE oauth_access_tokens.token = $1
		  AND (oauth_access_tokens.revoked_at IS NULL)
	`
	err := r.db.QueryRowContext(ctx, q, token).Scan(&id, &langs, &scopes)
	if errors.Is(err, sql.ErrNoRows) {
		return Data{}, ErrUnauthorized
	}
	if err != nil {
		return Data{}, err
	}

	allowed := make(map[string]struct{}, len(langs))
	for _, l := range langs {
		allowed[l] = struct{}{}
	}
	scopeSet := make(map[Scope]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[Scope(s)] = struct{}{}
	}

	return Data{ID: id, AllowedLangs: allowed, Scopes: scopeSet}, nil
}

// LoadBlocks fetches the blocking/blocked users and blocked domains for a user.
func (r *PostgresResolver) LoadBlocks(ctx context.Context, userID int64) (Blocks, error) {
	blocks := EmptyBlocks()
	if userID == AnonymousID {
		return blocks, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT target_account_id FROM blocks WHERE account_id = $1`, userID)
	if err != nil {
		return Blocks{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Blocks{}, err
		}
		blocks.BlockedUsers[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return Blocks{}, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT account_id FROM blocks WHERE target_account_id = $1`, userID)
	if err != nil {
		return Blocks{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Blocks{}, err
		}
		blocks.BlockingUsers[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return Blocks{}, err
	}

	domainRows, err := r.db.QueryContext(ctx, `SELECT domain FROM account_domain_blocks WHERE account_id = $1`, userID)
	if err != nil {
		return Blocks{}, err
	}
	defer domainRows.Close()
	for domainRows.Next() {
		var domain string
		if err := domainRows.Scan(&domain); err != nil {
			return Blocks{}, err
		}
		blocks.BlockedDomains[domain] = struct{}{}
	}
	return blocks, domainRows.Err()
}

// HashtagID resolves a hashtag name to its numeric id.
func (r *PostgresResolver) HashtagID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// ListIsOwnedBy reports whether listID belongs to userID.
func (r *PostgresResolver) ListIsOwnedBy(ctx context.Context, listID, userID int64) (bool, error) {
	var owner int64
	err := r.db.QueryRowContext(ctx, `SELECT account_id FROM lists WHERE id = $1`, listID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == userID, nil
}
