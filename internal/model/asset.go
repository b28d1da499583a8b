// Package model contains the record types shared by the ledger, the storage
// backends and the HTTP layer.
package model

import (
	"time"
)

// Identity is an authenticated principal. The core never looks inside it; two
// identities are the same caller exactly when the strings are equal.
type Identity string

// Handle identifies one tracked asset. Handles are allocated upstream by the
// seed registry.
type Handle uint64

// Attribute is a single trait_type/value pair shown by wallets and indexers.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Asset is the current-value view of a tracked seed, plant or product.
type Asset struct {
	Handle   Handle   `json:"handle"`
	Owner    Identity `json:"owner"`
	Approved Identity `json:"approved,omitempty"`
	Stage    Stage    `json:"stage"`

	Location    *string `json:"location,omitempty"`
	Temperature *int32  `json:"temperature,omitempty"`
	Humidity    *uint32 `json:"humidity,omitempty"`
	LabAnalysis *string `json:"labAnalysis,omitempty"`

	Processor   *Identity `json:"processor,omitempty"`
	Distributor *Identity `json:"distributor,omitempty"`
	Consumer    *Identity `json:"consumer,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	ExternalURL *string     `json:"externalUrl,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// Clone returns a deep copy so callers can never alias stored state.
func (a Asset) Clone() Asset {
	cp := a
	cp.Location = clonePtr(a.Location)
	cp.Temperature = clonePtr(a.Temperature)
	cp.Humidity = clonePtr(a.Humidity)
	cp.LabAnalysis = clonePtr(a.LabAnalysis)
	cp.Processor = clonePtr(a.Processor)
	cp.Distributor = clonePtr(a.Distributor)
	cp.Consumer = clonePtr(a.Consumer)
	cp.ExternalURL = clonePtr(a.ExternalURL)
	if a.Attributes != nil {
		cp.Attributes = append([]Attribute(nil), a.Attributes...)
	}
	return cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v. Handy for optional fields in literals.
func Ptr[T any](v T) *T {
	return &v
}
