package executor

import "github.com/cloudreap/cloudreap/types"

// credentialsFor selects the credential-iteration strategy for a resource
// type. Instances and images always belong to the tenant, so the default
// credential suffices. Key-pairs are scoped to their owning user: the
// default credential may not even see another user's pair, so every
// credential in the list is tried in order.
func credentialsFor(t types.ResourceType, creds []types.Credential) []types.Credential {
	if len(creds) == 0 {
		return nil
	}
	if t == types.TypeKeyPair {
		return creds
	}
	return creds[:1]
}
