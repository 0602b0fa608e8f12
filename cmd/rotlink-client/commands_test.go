package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/rotlink/internal/config"
	"github.com/muurk/rotlink/internal/server"
)

func withFlags(t *testing.T, user, pass string) {
	t.Helper()
	oldUser, oldPass := username, password
	username, password = user, pass
	t.Cleanup(func() { username, password = oldUser, oldPass })
}

func TestCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Logins = []config.Login{{Username: "bob", Password: "secret"}, {Username: "alice", Password: "hunter2"}}

	t.Run("first login by default", func(t *testing.T) {
		withFlags(t, "", "")
		user, pass, err := credentials(cfg)
		require.NoError(t, err)
		assert.Equal(t, "bob", user)
		assert.Equal(t, "secret", pass)
	})

	t.Run("password looked up for named user", func(t *testing.T) {
		withFlags(t, "alice", "")
		user, pass, err := credentials(cfg)
		require.NoError(t, err)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "hunter2", pass)
	})

	t.Run("flag password wins", func(t *testing.T) {
		withFlags(t, "alice", "override")
		_, pass, err := credentials(cfg)
		require.NoError(t, err)
		assert.Equal(t, "override", pass)
	})

	t.Run("no logins configured", func(t *testing.T) {
		withFlags(t, "", "")
		_, _, err := credentials(config.Default())
		assert.Error(t, err)
	})
}

func TestClientTLSConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "chat.example.com"
	cfg.Port = 4443

	tc, err := clientTLSConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, tc, "TLS disabled")

	cfg.TLS.Enabled = true
	cfg.TLS.Insecure = true
	tc, err = clientTLSConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "chat.example.com", tc.ServerName)
	assert.True(t, tc.InsecureSkipVerify)
	assert.Nil(t, tc.RootCAs)

	certPEM, _, err := server.GenerateSelfSigned([]string{"chat.example.com"}, 0)
	require.NoError(t, err)
	certFile := filepath.Join(t.TempDir(), "server.crt")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))

	cfg.TLS.Cert = certFile
	tc, err = clientTLSConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, tc.RootCAs)

	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0o600))
	_, err = clientTLSConfig(cfg)
	assert.Error(t, err)
}
