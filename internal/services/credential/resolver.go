package credential

import (
	"context"
	"fmt"

	domain "github.com/tradeflow-go/internal/domain/credential"
	"github.com/tradeflow-go/pkg/logger"
)

// Store is the persistence surface the resolver consumes.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Credential, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// Decrypter turns stored ciphertext back into plaintext key material.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Resolver fetches a credential record and decrypts it into exchange-ready
// key material just before use.
type Resolver struct {
	store     Store
	decrypter Decrypter
	logger    logger.Logger
}

func NewResolver(store Store, decrypter Decrypter, logger logger.Logger) *Resolver {
	return &Resolver{
		store:     store,
		decrypter: decrypter,
		logger:    logger,
	}
}

// Resolve loads the credential and verifies its type against the node's
// declared exchange before decrypting. A type mismatch is a configuration
// error, not something to paper over.
func (r *Resolver) Resolve(ctx context.Context, credentialID, expectedType string) (*domain.KeyMaterial, error) {
	if credentialID == "" {
		return nil, domain.ErrMissingCredential
	}

	cred, err := r.store.GetByID(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	if cred.Type != expectedType {
		return nil, fmt.Errorf("%w: credential %s is %q, node expects %q",
			domain.ErrTypeMismatch, cred.ID, cred.Type, expectedType)
	}

	material := &domain.KeyMaterial{}

	if ciphertext, ok := cred.Data["apiKey"]; ok {
		material.APIKey, err = r.decrypter.Decrypt(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt api key for credential %s: %w", cred.ID, err)
		}
	}
	if ciphertext, ok := cred.Data["apiSecret"]; ok {
		material.APISecret, err = r.decrypter.Decrypt(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt api secret for credential %s: %w", cred.ID, err)
		}
	}
	if address, ok := cred.Data["walletAddress"]; ok {
		// Wallet addresses are public, stored as plaintext
		material.WalletAddress = address
	}

	if err := r.store.TouchLastUsed(ctx, cred.ID); err != nil {
		r.logger.Warn("Failed to record credential use", "credentialId", cred.ID, "error", err)
	}

	return material, nil
}
