package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tradeflow-go/internal/domain/credential"
	"github.com/tradeflow-go/pkg/database"
	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *database.DB
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, cred *credential.Credential) error {
	return r.db.WithContext(ctx).Create(cred).Error
}

func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*credential.Credential, error) {
	var cred credential.Credential
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, credential.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *CredentialRepository) TouchLastUsed(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&credential.Credential{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}
