// Package auth owns the credential-hashing policy: PBKDF2-HMAC-SHA256
// over a random per-user salt, stored as "hex(salt):hex(key)".
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"chatd/store"
)

const (
	saltLength = 16
	iterations = 100000
	keyLength  = 32
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

type Authenticator struct {
	store store.Store
}

func New(s store.Store) *Authenticator {
	return &Authenticator{store: s}
}

// Register creates the user with a freshly salted credential record.
func (a *Authenticator) Register(ctx context.Context, username, password string) error {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	record := hex.EncodeToString(salt) + ":" + hex.EncodeToString(key)

	err := a.store.CreateUser(ctx, username, record)
	if errors.Is(err, store.ErrAlreadyExists) {
		return ErrUsernameTaken
	}
	return err
}

// Authenticate re-derives the key with the stored salt and compares in
// constant time. Unknown users and malformed stored records both read
// as bad credentials, never as a fatal error.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) error {
	record, err := a.store.PasswordHash(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}

	salt, key, ok := decodeRecord(record)
	if !ok {
		return ErrInvalidCredentials
	}

	derived := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	if subtle.ConstantTimeCompare(derived, key) != 1 {
		return ErrInvalidCredentials
	}

	return nil
}

func decodeRecord(record string) (salt, key []byte, ok bool) {
	parts := strings.SplitN(record, ":", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return nil, nil, false
	}

	key, err = hex.DecodeString(parts[1])
	if err != nil || len(key) == 0 {
		return nil, nil, false
	}

	return salt, key, true
}
