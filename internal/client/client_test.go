package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/SeedTrace/internal/api"
	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/signing"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

func newServer(t *testing.T) (*httptest.Server, *signing.Signer) {
	t.Helper()
	signer := signing.NewSigner([]byte("client-test"))
	cfg := &config.Config{MaxFileSize: 1 << 20, CredentialTTL: time.Minute}
	srv := httptest.NewServer(api.New(cfg, tracker.New(storage.NewMemoryStore()), signer).Handler())
	t.Cleanup(srv.Close)
	return srv, signer
}

func TestClientSupplyChain(t *testing.T) {
	srv, signer := newServer(t)
	ctx := context.Background()
	as := func(id string) *Client { return New(srv.URL, signer, id, time.Minute) }
	admin, cultivator, processor := as("admin"), as("cultivator"), as("processor")

	require.NoError(t, admin.Initialize(ctx, "admin", "SeedTrace", "SEED"))
	require.NoError(t, admin.SetRole(ctx, "cultivator", model.RoleCultivator, true))
	require.NoError(t, admin.SetRole(ctx, "processor", model.RoleProcessor, true))

	status, err := admin.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SEED", status.Symbol)

	asset, err := admin.Mint(ctx, "grower", 11, ledger.Descriptive{Name: "Plant #11", Attributes: []model.Attribute{{TraitType: "strain", Value: "OG"}}})
	require.NoError(t, err)
	assert.Equal(t, model.StageSeed, asset.Stage)

	asset, err = cultivator.Advance(ctx, 11, model.StageGerminated, ledger.Environment{Location: model.Ptr("Greenhouse A")}, model.Ptr("sprouted"))
	require.NoError(t, err)
	assert.Equal(t, model.StageGerminated, asset.Stage)

	_, err = processor.Advance(ctx, 11, model.StagePlantVegetative, ledger.Environment{}, nil)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	asset, err = cultivator.UpdateMetadata(ctx, 11, ledger.Patch{Humidity: ledger.Set(uint32(55))})
	require.NoError(t, err)
	require.NotNil(t, asset.Location, "unset fields must not be sent")
	assert.Equal(t, "Greenhouse A", *asset.Location)
	assert.Equal(t, uint32(55), *asset.Humidity)

	asset, err = cultivator.UpdateMetadata(ctx, 11, ledger.Patch{Location: ledger.Clear[string]()})
	require.NoError(t, err)
	assert.Nil(t, asset.Location)
	assert.NotNil(t, asset.Humidity)

	history, err := admin.History(ctx, 11)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Note)
	assert.Equal(t, "sprouted", *history[0].Note)

	ok, err := admin.HasRole(ctx, "processor", model.RoleProcessor)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientOwnershipAndPause(t *testing.T) {
	srv, signer := newServer(t)
	ctx := context.Background()
	admin := New(srv.URL, signer, "admin", time.Minute)
	grower := New(srv.URL, signer, "grower", time.Minute)

	require.NoError(t, admin.Initialize(ctx, "admin", "", ""))
	_, err := admin.Mint(ctx, "grower", 1, ledger.Descriptive{Name: "Plant #1"})
	require.NoError(t, err)

	require.NoError(t, admin.SetWhitelisted(ctx, "buyer", true))
	listed, err := admin.IsWhitelisted(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, listed)

	_, err = grower.Approve(ctx, 1, "broker")
	require.NoError(t, err)
	_, err = grower.Transfer(ctx, 1, "grower", "buyer")
	require.NoError(t, err)

	owner, err := admin.Owner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.Identity("buyer"), owner)
	n, err := admin.Balance(ctx, "grower")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, admin.SetPaused(ctx, true))
	_, err = admin.Mint(ctx, "grower", 2, ledger.Descriptive{})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusLocked, apiErr.Status)
	require.NoError(t, admin.SetPaused(ctx, false))

	_, err = New(srv.URL, nil, "", 0).Asset(ctx, 99)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
