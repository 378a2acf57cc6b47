package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists encrypted credentials per owner.
type Store interface {
	GetUserSecret(ctx context.Context, ownerID uuid.UUID) (string, error)
	PutUserSecret(ctx context.Context, ownerID uuid.UUID, enc string) error
	DeleteUserSecret(ctx context.Context, ownerID uuid.UUID) error
}

// Vault stores each owner's Figma access token encrypted.
type Vault struct {
	store  Store
	cipher *Cipher
}

// NewVault creates a vault. With an empty key the vault can still report and
// delete credentials but cannot store or read them.
func NewVault(store Store, rawKey string) (*Vault, error) {
	v := &Vault{store: store}
	if strings.TrimSpace(rawKey) == "" {
		return v, nil
	}
	c, err := NewCipher(rawKey)
	if err != nil {
		return nil, err
	}
	v.cipher = c
	return v, nil
}

// Has reports whether the owner has a stored credential.
func (v *Vault) Has(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	enc, err := v.store.GetUserSecret(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return enc != "", nil
}

// Get returns the owner's token, or "" when none is stored or the stored
// envelope cannot be opened.
func (v *Vault) Get(ctx context.Context, ownerID uuid.UUID) (string, error) {
	enc, err := v.store.GetUserSecret(ctx, ownerID)
	if err != nil || enc == "" {
		return "", err
	}
	if v.cipher == nil {
		zap.S().Named("secrets").Warnw("credential stored but no encryption key configured", "owner_id", ownerID)
		return "", nil
	}
	plain, err := v.cipher.Decrypt(enc)
	if err != nil {
		if errors.Is(err, ErrInvalidEnvelope) {
			zap.S().Named("secrets").Warnw("stored credential cannot be decrypted", "owner_id", ownerID, "error", err)
			return "", nil
		}
		return "", err
	}
	return plain, nil
}

// Put encrypts and stores the owner's token.
func (v *Vault) Put(ctx context.Context, ownerID uuid.UUID, token string) error {
	if v.cipher == nil {
		return ErrMissingKey
	}
	enc, err := v.cipher.Encrypt(strings.TrimSpace(token))
	if err != nil {
		return err
	}
	return v.store.PutUserSecret(ctx, ownerID, enc)
}

// Delete removes the owner's token.
func (v *Vault) Delete(ctx context.Context, ownerID uuid.UUID) error {
	return v.store.DeleteUserSecret(ctx, ownerID)
}
