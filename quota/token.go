package quota

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/nhalm/keyquota/store"
)

const (
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	tokenSize      = 16
	maxTokenTries  = 8
)

// randomToken returns n base58 characters drawn from crypto/rand.
// Bytes at or above 232 are discarded so every character is equally likely.
func randomToken(n int) (string, error) {
	const limit = 256 - 256%len(base58Alphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, base58Alphabet[int(b)%len(base58Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// uniqueToken generates tokens until one is not present under namespace.
func uniqueToken(ctx context.Context, st store.Store, namespace string) (string, error) {
	for range maxTokenTries {
		token, err := randomToken(tokenSize)
		if err != nil {
			return "", err
		}
		_, err = st.Get(ctx, namespace+token)
		if errors.Is(err, store.ErrNotFound) {
			return token, nil
		}
		if err != nil {
			return "", storeErr("generate key", err)
		}
	}
	return "", fmt.Errorf("generate key: no free token after %d attempts", maxTokenTries)
}
