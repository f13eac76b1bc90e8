package server

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const revokedSessionCapacity = 4096

// revokedSessions remembers signed-out session tokens until they would have expired anyway.
type revokedSessions struct {
	tokens *expirable.LRU[string, struct{}]
}

func newRevokedSessions(ttl time.Duration) *revokedSessions {
	return &revokedSessions{tokens: expirable.NewLRU[string, struct{}](revokedSessionCapacity, nil, ttl)}
}

func (r *revokedSessions) revoke(token string) {
	if r == nil || token == "" {
		return
	}
	r.tokens.Add(token, struct{}{})
}

func (r *revokedSessions) revoked(token string) bool {
	if r == nil {
		return false
	}
	return r.tokens.Contains(token)
}
