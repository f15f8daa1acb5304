package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// schemeZkLogin is the ledger's signature flag for ZK-backed identities.
const schemeZkLogin = 0x05

// DeriveAddress returns a deterministic ledger address for an identity. The
// same (salt, issuer, subject) always yields the same address, and different
// salts yield unrelated addresses.
func DeriveAddress(salt, issuer, subject string) (string, error) {
	if issuer == "" || subject == "" {
		return "", fmt.Errorf("issuer and subject are required")
	}

	info := []byte(fmt.Sprintf("%d:%s|%s", len(issuer), issuer, subject))
	reader := hkdf.New(sha256.New, []byte(subject), []byte(salt), info)

	seed := make([]byte, 32)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return "", fmt.Errorf("derive address: %w", err)
	}

	msg := make([]byte, 0, 1+len(seed))
	msg = append(msg, schemeZkLogin)
	msg = append(msg, seed...)
	sum := blake2b.Sum256(msg)
	return "0x" + hex.EncodeToString(sum[:]), nil
}
