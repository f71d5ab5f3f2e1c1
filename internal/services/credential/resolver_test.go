package credential

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tradeflow-go/internal/domain/credential"
	"github.com/tradeflow-go/pkg/logger"
)

type fakeStore struct {
	creds   map[string]*domain.Credential
	touched []string
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	cred, ok := s.creds[id]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return cred, nil
}

func (s *fakeStore) TouchLastUsed(ctx context.Context, id string) error {
	s.touched = append(s.touched, id)
	return nil
}

// fakeDecrypter strips a "enc:" prefix instead of doing real crypto.
type fakeDecrypter struct{}

func (fakeDecrypter) Decrypt(ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

func TestResolver_Resolve(t *testing.T) {
	store := &fakeStore{creds: map[string]*domain.Credential{
		"cred-1": {
			ID:   "cred-1",
			Type: domain.TypeHyperliquid,
			Data: map[string]string{
				"apiKey":        "enc:key-123",
				"apiSecret":     "enc:secret-456",
				"walletAddress": "0xabc",
			},
		},
	}}
	resolver := NewResolver(store, fakeDecrypter{}, logger.NewNop())

	material, err := resolver.Resolve(context.Background(), "cred-1", domain.TypeHyperliquid)
	require.NoError(t, err)

	assert.Equal(t, "key-123", material.APIKey)
	assert.Equal(t, "secret-456", material.APISecret)
	assert.Equal(t, "0xabc", material.WalletAddress)
	assert.Equal(t, []string{"cred-1"}, store.touched)
}

func TestResolver_MissingCredentialID(t *testing.T) {
	resolver := NewResolver(&fakeStore{}, fakeDecrypter{}, logger.NewNop())

	_, err := resolver.Resolve(context.Background(), "", domain.TypeHyperliquid)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
}

func TestResolver_NotFound(t *testing.T) {
	resolver := NewResolver(&fakeStore{creds: map[string]*domain.Credential{}}, fakeDecrypter{}, logger.NewNop())

	_, err := resolver.Resolve(context.Background(), "missing", domain.TypeHyperliquid)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestResolver_TypeMismatch(t *testing.T) {
	store := &fakeStore{creds: map[string]*domain.Credential{
		"cred-1": {
			ID:   "cred-1",
			Type: domain.TypeLighter,
			Data: map[string]string{"apiKey": "enc:key"},
		},
	}}
	resolver := NewResolver(store, fakeDecrypter{}, logger.NewNop())

	_, err := resolver.Resolve(context.Background(), "cred-1", domain.TypeHyperliquid)
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
	assert.Empty(t, store.touched)
}
