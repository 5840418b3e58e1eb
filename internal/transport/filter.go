// Package transport exposes the router core over WebSocket and SSE,
// applying the per-client language and block filtering that the core
// itself leaves to its caller.
package transport

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidegate/tidegate/internal/router"
	"github.com/tidegate/tidegate/internal/subscription"
)

type statusEnvelope struct {
	Language string `json:"language"`
	Account  struct {
		ID   string `json:"id"`
		Acct string `json:"acct"`
	} `json:"account"`
}

// admit decides whether ev should be delivered to a client holding sub,
// given the event's language tag and authoring account. Events whose
// payload doesn't carry a recognizable status envelope (deletes,
// filters_changed, announcements) are always admitted; filtering only
// ever narrows a feed, never rewrites it.
func admit(sub subscription.Subscription, ev router.Event) bool {
	var env statusEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return true
	}

	if env.Account.ID != "" {
		if accountID, err := strconv.ParseInt(env.Account.ID, 10, 64); err == nil {
			if _, blocked := sub.Blocks.BlockedUsers[accountID]; blocked {
				return false
			}
			if _, blocking := sub.Blocks.BlockingUsers[accountID]; blocking {
				return false
			}
		}
		if domain := domainOf(env.Account.Acct); domain != "" {
			if _, blocked := sub.Blocks.BlockedDomains[domain]; blocked {
				return false
			}
		}
	}

	if isLanguageFiltered(ev.Kind) && env.Language != "" && len(sub.AllowedLangs) > 0 {
		if _, ok := sub.AllowedLangs[env.Language]; !ok {
			return false
		}
	}

	return true
}

func isLanguageFiltered(kind string) bool {
	switch kind {
	case "update", "status.update":
		return true
	default:
		return false
	}
}

func domainOf(acct string) string {
	idx := strings.IndexByte(acct, '@')
	if idx < 0 || idx == len(acct)-1 {
		return ""
	}
	return acct[idx+1:]
}
