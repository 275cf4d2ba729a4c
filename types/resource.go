package types

import "time"

// ResourceType identifies one of the cleanable OpenStack resource kinds.
type ResourceType string

const (
	TypeInstance ResourceType = "instance"
	TypeImage    ResourceType = "image"
	TypeKeyPair  ResourceType = "key-pair"
)

// AllResourceTypes returns the cleanable types in processing order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{TypeInstance, TypeImage, TypeKeyPair}
}

// Resource is a cloud resource as reported by the gateway.
type Resource struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      ResourceType `json:"type"`
	CreatedAt time.Time    `json:"created_at"` // zero when the API exposes none (key-pairs)
	InUse     bool         `json:"in_use"`
}

// HasCreatedAt reports whether the API gave us a creation timestamp.
func (r Resource) HasCreatedAt() bool {
	return !r.CreatedAt.IsZero()
}

// Credential is one OpenStack username/password pair. Order matters in a
// tenant's credential list: index 0 is the default identity, later entries
// only come into play for key-pair deletion.
type Credential struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}
