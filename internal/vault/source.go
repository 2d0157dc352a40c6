package vault

import (
	"context"

	"github.com/novogod/hostbackup/internal/collect"
)

// CredentialSource adapts the Vault client to the database collector's
// credential interface.
type CredentialSource struct {
	Client *Client
}

var _ collect.CredentialSource = (*CredentialSource)(nil)

// Lookup fetches dump credentials for the given engine. A missing secret is
// an error the collector downgrades to engine-default credentials.
func (s *CredentialSource) Lookup(ctx context.Context, engine string) (*collect.DumpCredentials, error) {
	creds, err := s.Client.GetCredentials(ctx, engine)
	if err != nil {
		return nil, err
	}
	return &collect.DumpCredentials{
		Username: creds.Username,
		Password: creds.Password,
	}, nil
}
