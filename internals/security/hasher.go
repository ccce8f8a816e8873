package security

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

func NewUUID() uuid.UUID {
	return uuid.New()
}

// NewAPIKey returns a random 16 character hex secret, used as a monitor's
// check-in credential.
func NewAPIKey() string {
	return randomHex(8)
}

// NewUserKey returns the opaque capability token that scopes monitor
// ownership.
func NewUserKey() string {
	return randomHex(16)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process has no usable entropy source
		panic(err)
	}
	return hex.EncodeToString(b)
}

func HashPassword(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func ComparePassword(password, hash string) (bool, error) {
	ok, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, err
	}
	return ok, nil
}
