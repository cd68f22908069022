package config_test

import (
	"path/filepath"
	"testing"

	"github.com/go-pluto/orset/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestLoadConfig executes a black-box test on the
// implemented functionalities to load a TOML config file.
func TestLoadConfig(t *testing.T) {

	// Try to load a broken config file. This should fail.
	_, err := config.LoadConfig(filepath.Join("testdata", "broken-config.toml"))
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading broken-config.toml but received 'nil' error.")
	}

	// A replica listing itself as peer is refused.
	_, err = config.LoadConfig(filepath.Join("testdata", "self-peer-config.toml"))
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading self-peer-config.toml but received 'nil' error.")
	}

	// Now load a valid config.
	conf, err := config.LoadConfig(filepath.Join("testdata", "config.toml"))
	if err != nil {
		t.Fatalf("[config.TestLoadConfig] Expected success while loading config.toml but received: '%v'\n", err)
	}

	testdata, err := filepath.Abs("testdata")
	require.Nil(t, err)

	assert.Equal(t, "replica-1", conf.Replica.Name)
	assert.Equal(t, "127.0.0.1:7001", conf.Replica.ListenSyncAddr)
	assert.Equal(t, "127.0.0.1:8001", conf.Replica.ListenAPIAddr)
	assert.Equal(t, "127.0.0.1:9001", conf.Replica.PrometheusAddr)
	assert.Equal(t, 5000, conf.Replica.SyncInterval)
	assert.Equal(t, 500, conf.Replica.RetryInterval)
	assert.Equal(t, map[string]string{"replica-2": "127.0.0.1:7002", "replica-3": "127.0.0.1:7003"}, conf.Peers)

	// Relative paths are resolved against the
	// directory of the config file.
	assert.Equal(t, filepath.Join(testdata, "state", "replica-1.db"), conf.Replica.StateDB)
	assert.Equal(t, filepath.Join(testdata, "private", "root-cert.pem"), conf.TLS.RootCertLoc)
	assert.Equal(t, "/very/complicated/test/directory/certificate.test", conf.TLS.CertLoc)
	assert.True(t, conf.TLS.Enabled())
}

// TestValidate checks the rules for usable configs.
func TestValidate(t *testing.T) {

	valid := func() *config.Config {
		return &config.Config{
			Replica: config.Replica{
				Name:           "A",
				ListenSyncAddr: "127.0.0.1:7001",
				ListenAPIAddr:  "127.0.0.1:8001",
				StateDB:        "a.db",
			},
			Peers: map[string]string{"B": "127.0.0.1:7002"},
		}
	}

	assert.Nil(t, valid().Validate())

	// Names get generated if left empty.
	conf := valid()
	conf.Replica.Name = ""
	assert.Nil(t, conf.Validate())

	conf = valid()
	conf.Replica.Name = "A|B"
	assert.NotNil(t, conf.Validate())

	conf = valid()
	conf.Peers["C|D"] = "127.0.0.1:7003"
	assert.NotNil(t, conf.Validate())

	conf = valid()
	conf.Peers["C"] = ""
	assert.NotNil(t, conf.Validate())

	conf = valid()
	conf.Replica.StateDB = ""
	assert.NotNil(t, conf.Validate())

	conf = valid()
	conf.Replica.SyncInterval = -1
	assert.NotNil(t, conf.Validate())

	// TLS is all or nothing.
	conf = valid()
	conf.TLS.CertLoc = "cert.pem"
	assert.NotNil(t, conf.Validate())

	conf.TLS.KeyLoc = "key.pem"
	conf.TLS.RootCertLoc = "root.pem"
	assert.Nil(t, conf.Validate())
}
