package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/ggoodman/taskd/auth/gotrue"
	"github.com/ggoodman/taskd/auth/kratos"
	"github.com/ggoodman/taskd/config"
	sessionmemory "github.com/ggoodman/taskd/sessionstore/memory"
	taskmemory "github.com/ggoodman/taskd/taskstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["version"])

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "taskd dev")
}

func TestOpenTaskStoreMemory(t *testing.T) {
	store, closeStore, err := openTaskStore(t.Context(), &config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &taskmemory.Store{}, store)

	_, _, err = openTaskStore(t.Context(), &config.Config{Store: config.StoreConfig{Driver: "sqlite"}})
	require.Error(t, err)
}

func TestNewIdentityService(t *testing.T) {
	sessions, err := sessionmemory.New(10, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	cfg := &config.Config{Auth: config.AuthConfig{
		RemoteProvider: config.ProviderGoTrue,
		RemoteURL:      "http://auth.local/auth/v1",
		RemoteTimeout:  time.Second,
	}}
	svc, err := newIdentityService(cfg, sessions, nil)
	require.NoError(t, err)
	assert.IsType(t, &gotrue.Client{}, svc)

	cfg.Auth.RemoteProvider = config.ProviderKratos
	svc, err = newIdentityService(cfg, sessions, nil)
	require.NoError(t, err)
	assert.IsType(t, &kratos.Client{}, svc)

	cfg.Auth.RemoteProvider = "okta"
	_, err = newIdentityService(cfg, sessions, nil)
	require.Error(t, err)
}
