// Package pii seals passenger records before they reach the store and
// produces the masked display string shown on tickets and in listings.
package pii

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/iliyamo/travel-reservation/internal/model"
)

// ErrMalformed is returned when a sealed blob cannot be opened.
var ErrMalformed = errors.New("pii: malformed ciphertext")

// Sealer encrypts passenger records with XChaCha20-Poly1305.  The line
// item id is bound as associated data so a blob cannot be moved between
// tickets unnoticed.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("pii: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerHex builds a Sealer from a hex-encoded key as found in PII_KEY.
func NewSealerHex(keyHex string) (*Sealer, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("pii: decode key: %w", err)
	}
	return NewSealer(key)
}

// Seal encrypts p bound to ref and returns the blob plus a masked string.
func (s *Sealer) Seal(ref string, p model.Passenger) ([]byte, string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", err
	}
	blob := s.aead.Seal(nonce, nonce, plain, []byte(ref))
	return blob, Mask(p), nil
}

// Open reverses Seal.
func (s *Sealer) Open(ref string, blob []byte) (model.Passenger, error) {
	var p model.Passenger
	ns := s.aead.NonceSize()
	if len(blob) < ns+s.aead.Overhead() {
		return p, ErrMalformed
	}
	plain, err := s.aead.Open(nil, blob[:ns], blob[ns:], []byte(ref))
	if err != nil {
		return p, ErrMalformed
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		return p, fmt.Errorf("pii: %w", err)
	}
	return p, nil
}

// Mask renders initials and the last four document characters, e.g.
// "J*** D***, doc ****4321".
func Mask(p model.Passenger) string {
	return fmt.Sprintf("%s %s, doc %s", maskWord(p.FirstName), maskWord(p.LastName), maskTail(p.DocumentNumber, 4))
}

func maskWord(w string) string {
	r := []rune(strings.TrimSpace(w))
	if len(r) == 0 {
		return ""
	}
	return string(r[0]) + "***"
}

func maskTail(s string, keep int) string {
	r := []rune(s)
	if len(r) <= keep {
		return strings.Repeat("*", len(r))
	}
	return "****" + string(r[len(r)-keep:])
}
