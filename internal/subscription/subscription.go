// Package subscription turns an incoming streaming request into a
// Subscription: a resolved TimelineId plus the filter context a client's
// connection carries for its lifetime.
package subscription

import (
	"context"
	"errors"

	"github.com/tidegate/tidegate/internal/timeline"
	"github.com/tidegate/tidegate/internal/user"
)

// ErrNotFound is returned for an unrecognized stream name.
var ErrNotFound = errors.New("subscription: unknown stream name")

// Request is the parsed, transport-agnostic shape of an incoming
// subscribe request: a WebSocket query string and an SSE path both reduce
// to this before resolution.
type Request struct {
	StreamName  string
	MediaFlag   bool
	Hashtag     string
	ListID      int64
	HasListID   bool
	AccessToken string
}

// Subscription is immutable after construction: the resolved timeline plus
// everything needed to filter delivered events for this client downstream
// of the router core.
type Subscription struct {
	Timeline     timeline.ID
	AllowedLangs map[string]struct{}
	Blocks       user.Blocks
	HashtagName  string
	AccessToken  string
}

// Route is one entry of the table-driven SSE registration: the streaming
// endpoint path segment bound to the stream_name it resolves to. A single
// loop over Routes replaces binding one handler per endpoint.
type Route struct {
	Path       string
	StreamName string
}

// Routes enumerates every recognized SSE endpoint path.
var Routes = []Route{
	{Path: "/api/v1/streaming/user/notification", StreamName: "user:notification"},
	{Path: "/api/v1/streaming/user", StreamName: "user"},
	{Path: "/api/v1/streaming/public/local", StreamName: "public:local"},
	{Path: "/api/v1/streaming/public", StreamName: "public"},
	{Path: "/api/v1/streaming/direct", StreamName: "direct"},
	{Path: "/api/v1/streaming/hashtag/local", StreamName: "hashtag:local"},
	{Path: "/api/v1/streaming/hashtag", StreamName: "hashtag"},
	{Path: "/api/v1/streaming/list", StreamName: "list"},
}

// Resolver turns a Request into a Subscription, consulting a user.Resolver
// for identity, scopes and blocks.
type Resolver struct {
	users         user.Resolver
	whitelistMode bool
}

// NewResolver builds a Resolver over the given user capability.
func NewResolver(users user.Resolver, whitelistMode bool) *Resolver {
	return &Resolver{users: users, whitelistMode: whitelistMode}
}

// Resolve implements the subscription procedure: resolve the user, choose
// a TimelineId from the stream name (checking required scopes and list
// ownership along the way), and fill in the allowed languages and blocks
// from the resolved user.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Subscription, error) {
	u, err := r.users.Resolve(ctx, req.AccessToken, r.whitelistMode)
	if err != nil {
		return Subscription{}, err
	}

	tl, hashtagName, err := r.resolveTimeline(ctx, req, u)
	if err != nil {
		return Subscription{}, err
	}

	blocks, err := r.users.LoadBlocks(ctx, u.ID)
	if err != nil {
		return Subscription{}, err
	}

	return Subscription{
		Timeline:     tl,
		AllowedLangs: u.AllowedLangs,
		Blocks:       blocks,
		HashtagName:  hashtagName,
		AccessToken:  req.AccessToken,
	}, nil
}

func (r *Resolver) resolveTimeline(ctx context.Context, req Request, u user.Data) (timeline.ID, string, error) {
	content := timeline.ContentAll
	if req.MediaFlag {
		content = timeline.ContentMedia
	}

	switch req.StreamName {
	case "public":
		return timeline.ID{Stream: timeline.StreamPublic, Reach: timeline.ReachFederated, Content: content}, "", nil
	case "public:local":
		return timeline.ID{Stream: timeline.StreamPublic, Reach: timeline.ReachLocal, Content: content}, "", nil
	case "public:media":
		return timeline.ID{Stream: timeline.StreamPublic, Reach: timeline.ReachFederated, Content: timeline.ContentMedia}, "", nil
	case "public:local:media":
		return timeline.ID{Stream: timeline.StreamPublic, Reach: timeline.ReachLocal, Content: timeline.ContentMedia}, "", nil

	case "hashtag", "hashtag:local":
		id, err := r.users.HashtagID(ctx, req.Hashtag)
		if err != nil {
			return timeline.ID{}, "", ErrNotFound
		}
		reach := timeline.ReachFederated
		if req.StreamName == "hashtag:local" {
			reach = timeline.ReachLocal
		}
		return timeline.ID{Stream: timeline.StreamHashtag, Reach: reach, Content: timeline.ContentAll, Num: id}, req.Hashtag, nil

	case "user":
		if !u.HasScope(user.ScopeStatuses) {
			return timeline.ID{}, "", user.ErrUnauthorized
		}
		return timeline.ID{Stream: timeline.StreamUser, Reach: timeline.ReachFederated, Content: timeline.ContentAll, Num: u.ID}, "", nil
	case "user:notification":
		if !u.HasScope(user.ScopeStatuses) {
			return timeline.ID{}, "", user.ErrUnauthorized
		}
		return timeline.ID{Stream: timeline.StreamUser, Reach: timeline.ReachFederated, Content: timeline.ContentNotification, Num: u.ID}, "", nil

	case "list":
		if !u.HasScope(user.ScopeLists) {
			return timeline.ID{}, "", user.ErrUnauthorized
		}
		if !req.HasListID {
			return timeline.ID{}, "", ErrNotFound
		}
		owned, err := r.users.ListIsOwnedBy(ctx, req.ListID, u.ID)
		if err != nil {
			return timeline.ID{}, "", err
		}
		if !owned {
			return timeline.ID{}, "", user.ErrUnauthorized
		}
		return timeline.ID{Stream: timeline.StreamList, Reach: timeline.ReachFederated, Content: timeline.ContentAll, Num: req.ListID}, "", nil

	case "direct":
		if !u.HasScope(user.ScopeStatuses) {
			return timeline.ID{}, "", user.ErrUnauthorized
		}
		return timeline.ID{Stream: timeline.StreamDirect, Reach: timeline.ReachFederated, Content: timeline.ContentAll, Num: u.ID}, "", nil

	default:
		return timeline.ID{}, "", ErrNotFound
	}
}
