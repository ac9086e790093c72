package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvAccessKeyID     = "CD_STORAGE_ACCESS_KEY_ID"
	EnvSecretAccessKey = "CD_STORAGE_SECRET_ACCESS_KEY"
	EnvSessionToken    = "CD_STORAGE_SESSION_TOKEN"
)

// Credentials are object store access keys
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialsProvider supplies object store credentials at call time so they
// are never compiled into binaries, config files or generated capsules.
type CredentialsProvider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

// EnvCredentials reads CD_STORAGE_* environment variables
type EnvCredentials struct {
	Lookup func(string) (string, bool)
}

func (e EnvCredentials) Retrieve(_ context.Context) (Credentials, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	id, _ := lookup(EnvAccessKeyID)
	secret, _ := lookup(EnvSecretAccessKey)
	token, _ := lookup(EnvSessionToken)
	if id == "" || secret == "" {
		return Credentials{}, fmt.Errorf("%s and %s must be set", EnvAccessKeyID, EnvSecretAccessKey)
	}
	return Credentials{AccessKeyID: id, SecretAccessKey: secret, SessionToken: token}, nil
}

// DirCredentials reads credentials from files in a directory, e.g. the one
// systemd exposes as $CREDENTIALS_DIRECTORY or a mounted secret volume.
type DirCredentials struct {
	Dir string
}

func (d DirCredentials) Retrieve(_ context.Context) (Credentials, error) {
	read := func(name string) (string, error) {
		data, err := os.ReadFile(filepath.Join(d.Dir, name))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	id, err := read(EnvAccessKeyID)
	if err != nil {
		return Credentials{}, fmt.Errorf("read access key id: %w", err)
	}
	secret, err := read(EnvSecretAccessKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("read secret access key: %w", err)
	}
	token, _ := read(EnvSessionToken)
	return Credentials{AccessKeyID: id, SecretAccessKey: secret, SessionToken: token}, nil
}

// StaticCredentials returns fixed credentials. Intended for tests and local emulators.
type StaticCredentials Credentials

func (s StaticCredentials) Retrieve(_ context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// DefaultCredentials picks the credentials directory when one is exposed and
// falls back to environment variables. A nil result means "use the SDK default
// chain" (shared profile, instance role).
func DefaultCredentials(lookup func(string) (string, bool)) CredentialsProvider {
	if dir, ok := lookup("CREDENTIALS_DIRECTORY"); ok && dir != "" {
		if _, err := os.Stat(filepath.Join(dir, EnvAccessKeyID)); err == nil {
			return DirCredentials{Dir: dir}
		}
	}
	if id, ok := lookup(EnvAccessKeyID); ok && id != "" {
		return EnvCredentials{Lookup: lookup}
	}
	return nil
}
