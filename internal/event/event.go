// Package event describes the notifications emitted after each successful
// mutating operation. Delivery is best effort; stored state never depends on it.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

// Kind names what happened.
type Kind string

const (
	KindMint            Kind = "mint"
	KindStateTransition Kind = "state_transition"
	KindMetadataUpdate  Kind = "metadata_update"
	KindWhitelist       Kind = "whitelist"
	KindRoleGrant       Kind = "role_grant"
	KindRoleRevoke      Kind = "role_revoke"
	KindPaused          Kind = "paused"
	KindUnpaused        Kind = "unpaused"
	KindTransfer        Kind = "transfer"
	KindApproval        Kind = "approval"
)

// Event is the wire shape consumed by indexers. Stages are carried as their
// stable integer encoding.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	At        time.Time      `json:"at"`
	Handle    *model.Handle  `json:"tokenId,omitempty"`
	FromState *uint32        `json:"fromState,omitempty"`
	ToState   *uint32        `json:"toState,omitempty"`
	Actor     model.Identity `json:"actor,omitempty"`
	Account   model.Identity `json:"account,omitempty"`
	Role      model.Role     `json:"role,omitempty"`
	Added     *bool          `json:"added,omitempty"`
}

// New stamps a fresh event of the given kind.
func New(kind Kind, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, At: at}
}

// WithHandle sets the asset the event refers to.
func (e Event) WithHandle(h model.Handle) Event {
	e.Handle = &h
	return e
}

// WithTransition records the from/to stages of a state transition.
func (e Event) WithTransition(from, to model.Stage) Event {
	f, t := uint32(from), uint32(to)
	e.FromState, e.ToState = &f, &t
	return e
}
