package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Structs

// Env holds information specific to the
// system where a replica is deployed. This
// enables host adaptions without needing
// to maintain different config files.
type Env struct {
	Name    string
	StateDB string
}

// Functions

// LoadEnv reads the .env file at path into the
// process environment, without overriding variables
// already set, and collects the values a replica
// cares about. An empty path only consults the
// process environment.
func LoadEnv(path string) (*Env, error) {

	if path != "" {

		// Load environment file.
		err := godotenv.Load(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read in .env file at '%s'", path)
		}
	}

	env := &Env{
		Name:    os.Getenv("ORSET_NAME"),
		StateDB: os.Getenv("ORSET_STATEDB"),
	}

	return env, nil
}

// Apply overrides the matching config values with
// the ones set in the environment.
func (env *Env) Apply(conf *Config) error {

	if env.Name != "" {
		conf.Replica.Name = env.Name
	}

	if env.StateDB != "" {
		conf.Replica.StateDB = env.StateDB
	}

	return conf.Validate()
}
