package protocol

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// Tokens are short shared secrets: six characters from A-Z0-9, generated
// once by the coordinator and compared verbatim on every request. There is
// no rotation and no expiry.
const (
	tokenLength   = 6
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewToken generates a fresh authentication token, each character drawn
// uniformly from the alphabet.
func NewToken() (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// LoadToken resolves a worker's --token argument: when it ends in ".token"
// it names a file whose contents are the secret, otherwise it is the
// literal secret.
func LoadToken(arg string) (string, error) {
	if !strings.HasSuffix(arg, ".token") {
		return arg, nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// WriteTokenFile persists the token with owner-only permissions so other
// local users cannot read the secret.
func WriteTokenFile(path, token string) error {
	return os.WriteFile(path, []byte(token), 0o600)
}

// RemoveTokenFile deletes the persisted token on coordinator shutdown.
func RemoveTokenFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
