package ocifetch

import (
	"context"
	"errors"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DefaultCredentialStore returns a credential store that reads from
// Docker config (~/.docker/config.json) and credential helpers.
func DefaultCredentialStore() (credentials.Store, error) {
	return credentials.NewStoreFromDocker(credentials.StoreOptions{})
}

// StaticCredentials returns a credential store with a single static
// username/password credential for the specified registry.
func StaticCredentials(registry, username, password string) credentials.Store {
	return &staticStore{
		host: normalizeHost(registry),
		cred: auth.Credential{
			Username: username,
			Password: password,
		},
	}
}

// StaticToken returns a credential store with a bearer token
// for the specified registry.
func StaticToken(registry, token string) credentials.Store {
	return &staticStore{
		host: normalizeHost(registry),
		cred: auth.Credential{
			AccessToken: token,
		},
	}
}

// staticStore implements credentials.Store for a single static credential.
type staticStore struct {
	host string
	cred auth.Credential
}

// Get retrieves credentials for the given server address.
func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	host := normalizeHost(serverAddress)
	if host == s.host {
		return s.cred, nil
	}
	// Docker Hub is reachable under several hostnames.
	if isDockerHub(host) && isDockerHub(s.host) {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

// Put is not supported for static credentials.
func (s *staticStore) Put(_ context.Context, _ string, _ auth.Credential) error {
	return errors.New("ocifetch: static credential store is read-only")
}

// Delete is not supported for static credentials.
func (s *staticStore) Delete(_ context.Context, _ string) error {
	return errors.New("ocifetch: static credential store is read-only")
}

// normalizeHost reduces a server address to host[:port] for credential
// matching. It strips the scheme and any path.
func normalizeHost(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}

// isDockerHub reports whether the host is one of Docker Hub's hostnames.
func isDockerHub(hostport string) bool {
	host, _, _ := strings.Cut(hostport, ":")
	switch host {
	case "docker.io", "index.docker.io", "registry-1.docker.io":
		return true
	default:
		return false
	}
}
