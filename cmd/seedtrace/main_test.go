package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
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

const testSecret = "cli-test"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{MaxFileSize: 1 << 20, CredentialTTL: time.Minute}
	svc := tracker.New(storage.NewMemoryStore())
	srv := httptest.NewServer(api.New(cfg, svc, signing.NewSigner([]byte(testSecret))).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, srv *httptest.Server, as string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--as", as, "--secret", testSecret}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLILifecycle(t *testing.T) {
	srv := newTestServer(t)
	run := func(as string, args ...string) string {
		t.Helper()
		out, err := execute(t, srv, as, args...)
		require.NoError(t, err, out)
		return out
	}

	run("", "init", "--admin", "admin")
	run("admin", "role", "grant", "cultivator", "cultivator")
	assert.Equal(t, "true\n", run("", "role", "check", "cultivator", "Cultivator"))

	out := run("", "asset", "mint", "7", "--to", "grower", "--name", "Plant #7", "--attr", "strain=OG")
	var asset model.Asset
	require.NoError(t, json.Unmarshal([]byte(out), &asset))
	assert.Equal(t, model.StageSeed, asset.Stage)
	require.Len(t, asset.Attributes, 1)
	assert.Equal(t, "OG", asset.Attributes[0].Value)

	out = run("cultivator", "asset", "advance", "7", "germinated", "--location", "Greenhouse A", "--humidity", "60")
	asset = model.Asset{}
	require.NoError(t, json.Unmarshal([]byte(out), &asset))
	assert.Equal(t, model.StageGerminated, asset.Stage)
	require.NotNil(t, asset.Humidity)
	assert.Equal(t, uint32(60), *asset.Humidity)
	assert.Nil(t, asset.Temperature)

	out = run("cultivator", "asset", "update", "7", "--temperature", "21", "--clear", "location")
	asset = model.Asset{}
	require.NoError(t, json.Unmarshal([]byte(out), &asset))
	assert.Nil(t, asset.Location)
	require.NotNil(t, asset.Temperature)
	assert.Equal(t, int32(21), *asset.Temperature)
	assert.Equal(t, uint32(60), *asset.Humidity)

	var history []model.StateTransition
	require.NoError(t, json.Unmarshal([]byte(run("", "asset", "history", "7")), &history))
	require.Len(t, history, 1)
	assert.Equal(t, model.StageGerminated, history[0].To)

	assert.Equal(t, "grower\n", run("", "asset", "owner", "7"))
	assert.Equal(t, "1\n", run("", "balance", "grower"))
}

func TestCLIRejectsWithoutCredentials(t *testing.T) {
	srv := newTestServer(t)
	_, err := execute(t, srv, "", "pause")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identity")

	_, err = execute(t, srv, "admin", "pause")
	require.Error(t, err, "tracker is not initialized so admin holds no role")
}

func TestParseAttributes(t *testing.T) {
	attrs, err := parseAttributes([]string{"strain=OG", "thc=21=%"})
	require.NoError(t, err)
	assert.Equal(t, []model.Attribute{{TraitType: "strain", Value: "OG"}, {TraitType: "thc", Value: "21=%"}}, attrs)

	_, err = parseAttributes([]string{"novalue"})
	assert.Error(t, err)
}

func TestApplyClears(t *testing.T) {
	var p ledger.Patch
	require.NoError(t, applyClears(&p, []string{"location", "labAnalysis", "external-url", "attributes"}))
	assert.True(t, p.Location.IsClear())
	assert.True(t, p.LabAnalysis.IsClear())
	assert.True(t, p.ExternalURL.IsClear())
	assert.True(t, p.Attributes.IsClear())
	assert.True(t, p.Name.IsUnset())

	err := applyClears(&p, []string{"colour"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "colour"))
}
