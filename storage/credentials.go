package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// ErrCredentialsNotFound is returned when a credentials reference resolves to nothing.
var ErrCredentialsNotFound = errors.New("credentials not found")

// Credentials is an access key pair for an object storage service.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// CredentialsResolver looks up credentials by reference, e.g. a Vault path.
type CredentialsResolver interface {
	ResolveCredentials(ctx context.Context, ref string) (Credentials, error)
}

// VaultCredentials reads object storage keys from a Vault KV v2 secret.
// The secret must hold access_key and secret_key fields.
type VaultCredentials struct {
	client *api.Client
	log    *slog.Logger
}

// NewVaultCredentials creates a resolver talking to the Vault server at address.
func NewVaultCredentials(address, token string, log *slog.Logger) (*VaultCredentials, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}
	// Single attempt, matching the storage backends
	config.MaxRetries = 0

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultCredentials{client: client, log: log}, nil
}

// ResolveCredentials reads the KV v2 secret at ref, e.g. "secret/data/artifacts/s3".
func (v *VaultCredentials) ResolveCredentials(ctx context.Context, ref string) (Credentials, error) {
	path := strings.Trim(ref, "/")

	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		v.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return Credentials{}, fmt.Errorf("failed to read credentials from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("%w: %s", ErrCredentialsNotFound, path)
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		data = secret.Data
	}

	accessKey, _ := data["access_key"].(string)
	secretKey, _ := data["secret_key"].(string)
	if accessKey == "" || secretKey == "" {
		return Credentials{}, fmt.Errorf("%w: %s has no access_key/secret_key", ErrCredentialsNotFound, path)
	}

	v.log.Debug("Resolved credentials from Vault", slog.String("path", path))
	return Credentials{AccessKey: accessKey, SecretKey: secretKey}, nil
}
