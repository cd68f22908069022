package config

import (
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Replica Replica
	TLS     TLS
	Peers   map[string]string
}

// Replica describes the local replica: where it
// listens for peers and clients, where it keeps
// its state and how often it synchronizes.
type Replica struct {
	Name           string
	ListenSyncAddr string
	ListenAPIAddr  string
	PrometheusAddr string
	StateDB        string
	SyncInterval   int
	RetryInterval  int
}

// TLS names the files for mutually authenticated
// connections between replicas. Leaving all of them
// empty runs without TLS.
type TLS struct {
	RootCertLoc string
	CertLoc     string
	KeyLoc      string
}

// Functions

// Enabled reports whether TLS files are configured.
func (t TLS) Enabled() bool {
	return (t.RootCertLoc != "") || (t.CertLoc != "") || (t.KeyLoc != "")
}

// LoadConfig takes in the path to the config file
// of a replica in TOML syntax and places the values
// from the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
	}

	if conf.Peers == nil {
		conf.Peers = make(map[string]string)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	// Relative paths in the config are meant
	// relative to the config file itself.
	absConfigDir, err := filepath.Abs(filepath.Dir(configFile))
	if err != nil {
		return nil, errors.Wrap(err, "could not get absolute path of config directory")
	}

	conf.Replica.StateDB = resolve(absConfigDir, conf.Replica.StateDB)
	conf.TLS.RootCertLoc = resolve(absConfigDir, conf.TLS.RootCertLoc)
	conf.TLS.CertLoc = resolve(absConfigDir, conf.TLS.CertLoc)
	conf.TLS.KeyLoc = resolve(absConfigDir, conf.TLS.KeyLoc)

	return conf, nil
}

// Validate checks the config for values the
// replica cannot run with.
func (conf *Config) Validate() error {

	if conf.Replica.ListenSyncAddr == "" {
		return errors.New("missing ListenSyncAddr of replica")
	}

	if conf.Replica.ListenAPIAddr == "" {
		return errors.New("missing ListenAPIAddr of replica")
	}

	if conf.Replica.StateDB == "" {
		return errors.New("missing StateDB of replica")
	}

	if (conf.Replica.SyncInterval < 0) || (conf.Replica.RetryInterval < 0) {
		return errors.New("intervals must not be negative")
	}

	// An empty name gets generated later on.
	if err := ValidateName(conf.Replica.Name); (conf.Replica.Name != "") && (err != nil) {
		return err
	}

	for name, addr := range conf.Peers {

		if err := ValidateName(name); err != nil {
			return errors.Wrap(err, "invalid peer")
		}

		if name == conf.Replica.Name {
			return errors.Errorf("replica '%s' must not be its own peer", name)
		}

		if addr == "" {
			return errors.Errorf("missing address of peer '%s'", name)
		}
	}

	if conf.TLS.Enabled() && ((conf.TLS.RootCertLoc == "") || (conf.TLS.CertLoc == "") || (conf.TLS.KeyLoc == "")) {
		return errors.New("TLS needs RootCertLoc, CertLoc and KeyLoc")
	}

	return nil
}

// ValidateName checks that name can be used as
// replica name inside tags and messages.
func ValidateName(name string) error {

	if name == "" {
		return errors.New("replica name must not be empty")
	}

	if strings.Contains(name, "|") {
		return errors.Errorf("replica name '%s' must not contain '|'", name)
	}

	return nil
}

// resolve makes a relative path absolute in dir.
// Empty paths stay empty.
func resolve(dir string, path string) string {

	if (path == "") || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dir, path)
}
