package executor

import (
	"context"
	"sync"

	"github.com/cloudreap/cloudreap/gateway"
	"github.com/cloudreap/cloudreap/types"
)

// sessionCache shares authenticated sessions between workers so each
// (tenant, credential) pair authenticates at most once per pool lifetime.
// Failures are not cached; a flaky Keystone gets retried on the next task.
type sessionCache struct {
	mu       sync.Mutex
	sessions map[string]gateway.Session
}

func (c *sessionCache) get(ctx context.Context, gw gateway.Gateway, authURL, tenant string, cred types.Credential) (gateway.Session, error) {
	key := authURL + "|" + tenant + "|" + cred.Username

	c.mu.Lock()
	if sess, ok := c.sessions[key]; ok {
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	sess, err := gw.Authenticate(ctx, authURL, tenant, cred)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.sessions == nil {
		c.sessions = make(map[string]gateway.Session)
	}
	c.sessions[key] = sess
	c.mu.Unlock()

	return sess, nil
}
