// Package vault fetches database dump credentials from HashiCorp Vault. The
// pipeline treats it as optional: with no Vault address configured, database
// dumps run with engine-default credentials.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
	kvBase   string
}

// Client wraps the Vault API client with the auth flow this tool needs.
type Client struct {
	api    *vault.Client
	config *config
}

// Credentials are the username/password pair stored under an engine's KV
// path.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// WithKVBase sets the KV prefix under which per-engine credentials live.
func WithKVBase(base string) Option {
	return func(c *config) {
		c.kvBase = base
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It performs AppRole login if roleID and roleName are both set, otherwise a
// static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("%w: approle login: %v", ErrClientInit, err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and
// roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	secretPath := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, secretPath, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", secretPath)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// GetCredentials reads the credentials stored under <kv_base>/<engine>.
func (c *Client) GetCredentials(ctx context.Context, engine string) (*Credentials, error) {
	secretPath := path.Join(c.config.kvBase, engine)
	secret, err := c.api.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, fmt.Errorf("no data found at path: %s", secretPath)
	}

	data := secret.Data
	// KV v2 nests the payload one level down.
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}

	var creds Credentials
	if err := mapstructure.Decode(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials at %s: %w", secretPath, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("incomplete credentials at path: %s", secretPath)
	}
	return &creds, nil
}
