package tls

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientTLSConfigTrustsCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, pemBytes, 0600))

	cfg, err := ClientConfig{CAFile: caFile}.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadClientTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadClientTLSConfig("", "", filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0600))
	_, err = LoadClientTLSConfig("", "", bad)
	assert.Error(t, err)

	_, err = LoadClientTLSConfig("cert.pem", "", "")
	assert.Error(t, err)
}

func TestClientConfigEnabled(t *testing.T) {
	assert.False(t, ClientConfig{}.Enabled())
	assert.True(t, ClientConfig{CAFile: "ca.pem"}.Enabled())

	cfg, err := ClientConfig{}.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
}
