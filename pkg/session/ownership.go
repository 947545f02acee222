package session

import (
	"sort"

	"github.com/marmos91/netclass/pkg/transport"
)

// Registry is the single source of truth for which client owns which
// network object.
//
// It stores only ownership. Object state (version, payload) is forwarded
// by the dispatcher and never kept here.
//
// Thread safety:
// Not safe for concurrent use. The session mutates it from the tick only.
type Registry struct {
	owners       map[string]transport.ClientID
	host         transport.ClientID
	hasHost      bool
	allowNonHost bool
}

// NewRegistry creates an empty registry.
func NewRegistry(allowNonHostOwnership bool) *Registry {
	return &Registry{
		owners:       make(map[string]transport.ClientID),
		allowNonHost: allowNonHostOwnership,
	}
}

// SetHost records the session host, used by the creation policy.
func (r *Registry) SetHost(id transport.ClientID) {
	r.host = id
	r.hasHost = true
}

// Host returns the session host, if one has joined.
func (r *Registry) Host() (transport.ClientID, bool) {
	return r.host, r.hasHost
}

// SetAllowNonHostOwnership changes the creation policy. Existing objects
// are unaffected.
func (r *Registry) SetAllowNonHostOwnership(allow bool) {
	r.allowNonHost = allow
}

// AuthorizeCreate applies the creation policy to owner without touching
// the table.
func (r *Registry) AuthorizeCreate(owner transport.ClientID) error {
	if r.allowNonHost || (r.hasHost && owner == r.host) {
		return nil
	}
	return &Error{
		Code:    ErrUnauthorized,
		Message: "non-host object creation is disabled",
		Client:  owner,
	}
}

// Create registers networkID as owned by owner.
//
// Fails with ErrUnauthorized when the policy forbids owner from creating,
// and with ErrDuplicateObject when networkID is already registered. A
// failed Create leaves the table unchanged.
func (r *Registry) Create(networkID string, owner transport.ClientID) error {
	if err := r.AuthorizeCreate(owner); err != nil {
		if se, ok := err.(*Error); ok {
			se.NetworkID = networkID
		}
		return err
	}
	if _, exists := r.owners[networkID]; exists {
		return &Error{
			Code:      ErrDuplicateObject,
			Message:   "object already exists",
			NetworkID: networkID,
			Client:    owner,
		}
	}

	r.owners[networkID] = owner
	return nil
}

// Update checks that requester owns networkID. Nothing is stored.
func (r *Registry) Update(networkID string, requester transport.ClientID) error {
	return r.checkOwner(networkID, requester, "update")
}

// Delete removes networkID if requester owns it.
func (r *Registry) Delete(networkID string, requester transport.ClientID) error {
	if err := r.checkOwner(networkID, requester, "delete"); err != nil {
		return err
	}
	delete(r.owners, networkID)
	return nil
}

func (r *Registry) checkOwner(networkID string, requester transport.ClientID, op string) error {
	owner, ok := r.owners[networkID]
	if !ok {
		return &Error{
			Code:      ErrUnknownObject,
			Message:   op + " of unknown object",
			NetworkID: networkID,
			Client:    requester,
		}
	}
	if owner != requester {
		return &Error{
			Code:      ErrUnauthorized,
			Message:   op + " by non-owner",
			NetworkID: networkID,
			Client:    requester,
		}
	}
	return nil
}

// DeleteAllOwnedBy removes every object owned by id and returns their
// network ids in sorted order.
func (r *Registry) DeleteAllOwnedBy(id transport.ClientID) []string {
	var deleted []string
	for networkID, owner := range r.owners {
		if owner == id {
			deleted = append(deleted, networkID)
		}
	}
	for _, networkID := range deleted {
		delete(r.owners, networkID)
	}
	sort.Strings(deleted)
	return deleted
}

// Owner returns the owner of networkID.
func (r *Registry) Owner(networkID string) (transport.ClientID, bool) {
	owner, ok := r.owners[networkID]
	return owner, ok
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	return len(r.owners)
}

// Clear empties the table and forgets the host. The policy flag is kept.
func (r *Registry) Clear() {
	r.owners = make(map[string]transport.ClientID)
	r.host = 0
	r.hasHost = false
}
