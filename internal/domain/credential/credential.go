package credential

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrTypeMismatch       = errors.New("credential type does not match node type")
	ErrMissingCredential  = errors.New("no credential specified for this node")
)

// Credential types mirror the exchanges a credential unlocks.
const (
	TypeHyperliquid = "hyperliquid"
	TypeLighter     = "lighter"
	TypeBackpack    = "backpack"
)

// Credential stores encrypted exchange key material. Data values are
// ciphertext at rest; only the resolver ever sees them decrypted.
type Credential struct {
	ID          string            `json:"id" gorm:"primaryKey"`
	Name        string            `json:"name" gorm:"not null"`
	Type        string            `json:"type" gorm:"not null"`
	UserID      string            `json:"userId" gorm:"index"`
	Description string            `json:"description"`
	Data        map[string]string `json:"data" gorm:"serializer:json"`
	LastUsedAt  *time.Time        `json:"lastUsedAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// KeyMaterial is decrypted, exchange-ready key data. Never persisted or
// logged.
type KeyMaterial struct {
	APIKey        string
	APISecret     string
	WalletAddress string
}

func New(name, credType, userID string) *Credential {
	return &Credential{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      credType,
		UserID:    userID,
		Data:      make(map[string]string),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
