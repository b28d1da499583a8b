// Package ledger implements the Asset Ledger operations on top of a storage
// transaction. Callers are responsible for authorization and for validating
// transitions; the ledger only applies them.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

// Descriptive holds the wallet-facing fields established at mint time.
type Descriptive struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Image       string            `json:"image"`
	ExternalURL *string           `json:"externalUrl,omitempty"`
	Attributes  []model.Attribute `json:"attributes,omitempty"`
}

// Environment accompanies a stage transition. Nil values clear the stored
// field because a transition overwrites the environmental readings.
type Environment struct {
	Location    *string `json:"location,omitempty"`
	Temperature *int32  `json:"temperature,omitempty"`
	Humidity    *uint32 `json:"humidity,omitempty"`
}

// Patch is a partial metadata update. Only fields that are not unset are
// written.
type Patch struct {
	Location    Field[string]            `json:"location"`
	Temperature Field[int32]             `json:"temperature"`
	Humidity    Field[uint32]            `json:"humidity"`
	LabAnalysis Field[string]            `json:"labAnalysis"`
	Name        Field[string]            `json:"name"`
	Description Field[string]            `json:"description"`
	Image       Field[string]            `json:"image"`
	ExternalURL Field[string]            `json:"externalUrl"`
	Attributes  Field[[]model.Attribute] `json:"attributes"`
}

// Empty reports whether the patch changes nothing but the timestamp.
func (p Patch) Empty() bool {
	return p.Location.IsUnset() && p.Temperature.IsUnset() && p.Humidity.IsUnset() &&
		p.LabAnalysis.IsUnset() && p.Name.IsUnset() && p.Description.IsUnset() &&
		p.Image.IsUnset() && p.ExternalURL.IsUnset() && p.Attributes.IsUnset()
}

// Mint creates a new asset at StageSeed owned by owner.
func Mint(ctx context.Context, tx storage.Tx, handle model.Handle, owner model.Identity, d Descriptive, now time.Time) (model.Asset, error) {
	asset := model.Asset{
		Handle:      handle,
		Owner:       owner,
		Stage:       model.StageSeed,
		CreatedAt:   now,
		UpdatedAt:   now,
		Name:        d.Name,
		Description: d.Description,
		Image:       d.Image,
		ExternalURL: d.ExternalURL,
		Attributes:  d.Attributes,
	}
	if err := tx.InsertAsset(ctx, asset); err != nil {
		return model.Asset{}, fmt.Errorf("mint asset %d: %w", handle, err)
	}
	return asset.Clone(), nil
}

// Get loads an asset or returns storage.ErrNotFound.
func Get(ctx context.Context, tx storage.Tx, handle model.Handle) (model.Asset, error) {
	asset, err := tx.GetAsset(ctx, handle)
	if err != nil {
		return model.Asset{}, fmt.Errorf("get asset %d: %w", handle, err)
	}
	return asset, nil
}

// ApplyTransition moves the asset to stage `to` and records the custody
// identity the target stage calls for. Entering Consumed records the current
// owner, not the actor, as consumer.
func ApplyTransition(ctx context.Context, tx storage.Tx, handle model.Handle, to model.Stage, env Environment, actor model.Identity, now time.Time) (model.Asset, error) {
	asset, err := Get(ctx, tx, handle)
	if err != nil {
		return model.Asset{}, err
	}
	asset.Stage = to
	asset.Location = env.Location
	asset.Temperature = env.Temperature
	asset.Humidity = env.Humidity
	asset.UpdatedAt = now
	switch to {
	case model.StageProcessed:
		asset.Processor = model.Ptr(actor)
	case model.StageDistributed:
		asset.Distributor = model.Ptr(actor)
	case model.StageConsumed:
		asset.Consumer = model.Ptr(asset.Owner)
	}
	if err := tx.UpdateAsset(ctx, asset); err != nil {
		return model.Asset{}, fmt.Errorf("apply transition to asset %d: %w", handle, err)
	}
	return asset, nil
}

// UpdateDescriptive merges the supplied fields of p and refreshes UpdatedAt.
func UpdateDescriptive(ctx context.Context, tx storage.Tx, handle model.Handle, p Patch, now time.Time) (model.Asset, error) {
	asset, err := Get(ctx, tx, handle)
	if err != nil {
		return model.Asset{}, err
	}
	p.Location.apply(&asset.Location)
	p.Temperature.apply(&asset.Temperature)
	p.Humidity.apply(&asset.Humidity)
	p.LabAnalysis.apply(&asset.LabAnalysis)
	p.Name.applyValue(&asset.Name)
	p.Description.applyValue(&asset.Description)
	p.Image.applyValue(&asset.Image)
	p.ExternalURL.apply(&asset.ExternalURL)
	p.Attributes.applyValue(&asset.Attributes)
	asset.UpdatedAt = now
	if err := tx.UpdateAsset(ctx, asset); err != nil {
		return model.Asset{}, fmt.Errorf("update asset %d: %w", handle, err)
	}
	return asset, nil
}

// Transfer hands ownership to `to` and drops any outstanding approval.
func Transfer(ctx context.Context, tx storage.Tx, handle model.Handle, to model.Identity, now time.Time) (model.Asset, error) {
	asset, err := Get(ctx, tx, handle)
	if err != nil {
		return model.Asset{}, err
	}
	asset.Owner = to
	asset.Approved = ""
	asset.UpdatedAt = now
	if err := tx.UpdateAsset(ctx, asset); err != nil {
		return model.Asset{}, fmt.Errorf("transfer asset %d: %w", handle, err)
	}
	return asset, nil
}

// Approve records spender as allowed to transfer the asset once. An empty
// spender revokes the approval.
func Approve(ctx context.Context, tx storage.Tx, handle model.Handle, spender model.Identity, now time.Time) (model.Asset, error) {
	asset, err := Get(ctx, tx, handle)
	if err != nil {
		return model.Asset{}, err
	}
	asset.Approved = spender
	asset.UpdatedAt = now
	if err := tx.UpdateAsset(ctx, asset); err != nil {
		return model.Asset{}, fmt.Errorf("approve asset %d: %w", handle, err)
	}
	return asset, nil
}
