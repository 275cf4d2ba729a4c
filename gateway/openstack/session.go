package openstack

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"

	"github.com/cloudreap/cloudreap/types"
)

type session struct {
	tenant  string
	compute *gophercloud.ServiceClient
	image   *gophercloud.ServiceClient
}

// List returns the tenant's resources of the given type. In-use flags for
// images and key-pairs are derived from the live server list: an image is in
// use while an instance was booted from it, a key-pair while an instance
// references it by name. Protected images report in-use so that usage-gated
// policies never select them.
func (s *session) List(ctx context.Context, t types.ResourceType) ([]types.Resource, error) {
	switch t {
	case types.TypeInstance:
		srvs, err := s.listServers()
		if err != nil {
			return nil, classify("list instances", "", err)
		}
		resources := make([]types.Resource, 0, len(srvs))
		for _, srv := range srvs {
			resources = append(resources, types.Resource{
				ID:        srv.ID,
				Name:      srv.Name,
				Type:      types.TypeInstance,
				CreatedAt: srv.Created,
			})
		}
		return resources, nil

	case types.TypeImage:
		imgs, err := s.listImages()
		if err != nil {
			return nil, classify("list images", "", err)
		}
		used, err := s.usage()
		if err != nil {
			return nil, classify("list images", "", err)
		}
		resources := make([]types.Resource, 0, len(imgs))
		for _, img := range imgs {
			resources = append(resources, types.Resource{
				ID:        img.ID,
				Name:      img.Name,
				Type:      types.TypeImage,
				CreatedAt: img.CreatedAt,
				InUse:     img.Protected || used.images[img.ID],
			})
		}
		return resources, nil

	case types.TypeKeyPair:
		pairs, err := s.listKeyPairs()
		if err != nil {
			return nil, classify("list key-pairs", "", err)
		}
		used, err := s.usage()
		if err != nil {
			return nil, classify("list key-pairs", "", err)
		}
		resources := make([]types.Resource, 0, len(pairs))
		for _, kp := range pairs {
			// Nova exposes no creation timestamp for key-pairs; the
			// tracking store's first-seen time stands in for it.
			resources = append(resources, types.Resource{
				ID:    kp.Name,
				Name:  kp.Name,
				Type:  types.TypeKeyPair,
				InUse: used.keyPairs[kp.Name],
			})
		}
		return resources, nil
	}

	return nil, fmt.Errorf("unknown resource type %q", t)
}

// Delete removes one resource. Typed errors from the gateway package convey
// the outcome taxonomy to the executor.
func (s *session) Delete(ctx context.Context, t types.ResourceType, id string) error {
	switch t {
	case types.TypeInstance:
		return classify("delete instance", id, servers.Delete(s.compute, id).ExtractErr())
	case types.TypeImage:
		return classifyImageDelete(id, images.Delete(s.image, id).ExtractErr())
	case types.TypeKeyPair:
		return classify("delete key-pair", id, keypairs.Delete(s.compute, id, nil).ExtractErr())
	}
	return fmt.Errorf("unknown resource type %q", t)
}

type usageIndex struct {
	images   map[string]bool
	keyPairs map[string]bool
}

func (s *session) usage() (*usageIndex, error) {
	srvs, err := s.listServers()
	if err != nil {
		return nil, err
	}

	idx := &usageIndex{
		images:   make(map[string]bool),
		keyPairs: make(map[string]bool),
	}
	for _, srv := range srvs {
		if id, ok := srv.Image["id"].(string); ok && id != "" {
			idx.images[id] = true
		}
		if srv.KeyName != "" {
			idx.keyPairs[srv.KeyName] = true
		}
	}
	return idx, nil
}

func (s *session) listServers() ([]servers.Server, error) {
	pages, err := servers.List(s.compute, servers.ListOpts{}).AllPages()
	if err != nil {
		return nil, err
	}
	return servers.ExtractServers(pages)
}

func (s *session) listImages() ([]images.Image, error) {
	pages, err := images.List(s.image, images.ListOpts{}).AllPages()
	if err != nil {
		return nil, err
	}
	return images.ExtractImages(pages)
}

func (s *session) listKeyPairs() ([]keypairs.KeyPair, error) {
	pages, err := keypairs.List(s.compute, nil).AllPages()
	if err != nil {
		return nil, err
	}
	return keypairs.ExtractKeyPairs(pages)
}
