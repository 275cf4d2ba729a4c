// Package gateway defines the narrow interface the cleanup core uses to talk
// to an OpenStack-compatible cloud. The core never speaks the wire protocol
// itself; everything goes through an authenticated Session.
package gateway

import (
	"context"

	"github.com/cloudreap/cloudreap/types"
)

// Gateway authenticates a credential against a tenant and hands back a
// session scoped to that identity.
type Gateway interface {
	Authenticate(ctx context.Context, authURL, tenant string, cred types.Credential) (Session, error)
}

// Session is an authenticated view of one tenant under one credential. The
// gateway is the sole source of truth for the in-use flag on listed
// resources; callers must not infer usage themselves.
type Session interface {
	// List returns all resources of the given type visible to this identity.
	List(ctx context.Context, t types.ResourceType) ([]types.Resource, error)

	// Delete removes the resource with the given id. It returns nil on
	// success and one of the typed errors (NotFoundError, InUseError,
	// AuthError, TransientError) otherwise.
	Delete(ctx context.Context, t types.ResourceType, id string) error
}
