// Package openstack implements the gateway against a real OpenStack cloud
// using gophercloud: Nova for instances and key-pairs, Glance for images.
package openstack

import (
	"context"
	"net/http"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"

	"github.com/cloudreap/cloudreap/gateway"
	"github.com/cloudreap/cloudreap/types"
)

// DefaultCallTimeout bounds every API call; calls that exceed it surface as
// transient errors and retry on the next run.
const DefaultCallTimeout = 30 * time.Second

// Gateway creates gophercloud sessions.
type Gateway struct {
	// CallTimeout overrides DefaultCallTimeout when positive.
	CallTimeout time.Duration
}

// New returns a gateway with default settings.
func New() *Gateway {
	return &Gateway{}
}

// Authenticate obtains a Keystone token for the credential and builds the
// Nova and Glance service clients.
func (g *Gateway) Authenticate(ctx context.Context, authURL, tenant string, cred types.Credential) (gateway.Session, error) {
	timeout := g.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	provider, err := openstack.NewClient(authURL)
	if err != nil {
		return nil, &gateway.AuthError{Tenant: tenant, Username: cred.Username, Err: err}
	}
	provider.HTTPClient = http.Client{Timeout: timeout}

	opts := gophercloud.AuthOptions{
		IdentityEndpoint: authURL,
		Username:         cred.Username,
		Password:         cred.Password,
		TenantName:       tenant,
		AllowReauth:      true,
	}
	if err := openstack.Authenticate(provider, opts); err != nil {
		return nil, classifyAuth(tenant, cred.Username, err)
	}

	compute, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, classifyAuth(tenant, cred.Username, err)
	}
	image, err := openstack.NewImageServiceV2(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, classifyAuth(tenant, cred.Username, err)
	}

	return &session{
		tenant:  tenant,
		compute: compute,
		image:   image,
	}, nil
}

func classifyAuth(tenant, username string, err error) error {
	if isTransport(err) {
		return &gateway.TransientError{Op: "authenticate", Err: err}
	}
	return &gateway.AuthError{Tenant: tenant, Username: username, Err: err}
}
