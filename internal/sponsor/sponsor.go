// Package sponsor holds the gas-paying keypair. It co-signs sponsored
// transactions and is the sole signer of backend-initiated calls.
//
// A Sponsor is read-only after construction and safe for concurrent use.
package sponsor

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

const (
	// SchemeEd25519 is the signature scheme flag prefixed to keys and signatures.
	SchemeEd25519 byte = 0x00

	// PrivateKeyHRP is the bech32 prefix of exported private keys.
	PrivateKeyHRP = "suiprivkey"
)

// intentTransaction prefixes transaction bytes before hashing: scope
// TransactionData, version V0, app id Sui.
var intentTransaction = []byte{0, 0, 0}

// Sponsor is an ed25519 signer with its derived ledger address.
type Sponsor struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	address string
}

// FromSeed builds a sponsor from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Sponsor, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("sponsor seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Sponsor{private: priv, public: pub, address: AddressFromPublicKey(pub)}, nil
}

// Parse imports key material. Accepted forms: bech32 "suiprivkey1...",
// hex seed (optionally 0x-prefixed), or base64 of flag||seed or a bare seed.
func Parse(raw string) (*Sponsor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("sponsor key is required")
	}

	if strings.HasPrefix(strings.ToLower(raw), PrivateKeyHRP+"1") {
		return parseBech32(raw)
	}

	if hexStr := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"); len(hexStr) == 2*ed25519.SeedSize {
		if seed, err := hex.DecodeString(hexStr); err == nil {
			return FromSeed(seed)
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("sponsor key is neither bech32, hex nor base64")
	}
	return fromFlagged(decoded)
}

func parseBech32(raw string) (*Sponsor, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode bech32 key: %w", err)
	}
	if hrp != PrivateKeyHRP {
		return nil, fmt.Errorf("unexpected key prefix %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("convert bech32 key: %w", err)
	}
	return fromFlagged(decoded)
}

func fromFlagged(decoded []byte) (*Sponsor, error) {
	switch len(decoded) {
	case ed25519.SeedSize:
		return FromSeed(decoded)
	case ed25519.SeedSize + 1:
		if decoded[0] != SchemeEd25519 {
			return nil, fmt.Errorf("unsupported key scheme flag 0x%02x", decoded[0])
		}
		return FromSeed(decoded[1:])
	default:
		return nil, fmt.Errorf("sponsor key must decode to 32 or 33 bytes, got %d", len(decoded))
	}
}

// Generate creates a random sponsor. Used in tests and local development.
func Generate(r io.Reader) (*Sponsor, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return FromSeed(seed)
}

// AddressFromPublicKey derives 0x + hex(blake2b-256(flag || pubkey)).
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, SchemeEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Address returns the sponsor's ledger address.
func (s *Sponsor) Address() string {
	return s.address
}

// PublicKey returns a copy of the public key.
func (s *Sponsor) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.public...)
}

// ExportBech32 renders the key in "suiprivkey1..." form.
func (s *Sponsor) ExportBech32() (string, error) {
	flagged := append([]byte{SchemeEd25519}, s.private.Seed()...)
	conv, err := bech32.ConvertBits(flagged, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(PrivateKeyHRP, conv)
}

// TransactionDigest returns blake2b-256(intent || txBytes).
func TransactionDigest(txBytes []byte) [32]byte {
	msg := make([]byte, 0, len(intentTransaction)+len(txBytes))
	msg = append(msg, intentTransaction...)
	msg = append(msg, txBytes...)
	return blake2b.Sum256(msg)
}

// SignTransaction signs txBytes and returns the serialized signature
// base64(flag || sig || pubkey).
func (s *Sponsor) SignTransaction(txBytes []byte) string {
	digest := TransactionDigest(txBytes)
	sig := ed25519.Sign(s.private, digest[:])

	out := make([]byte, 0, 1+len(sig)+len(s.public))
	out = append(out, SchemeEd25519)
	out = append(out, sig...)
	out = append(out, s.public...)
	return base64.StdEncoding.EncodeToString(out)
}

// SignTransactionB64 decodes base64 transaction bytes and signs them.
func (s *Sponsor) SignTransactionB64(txBytesB64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return "", fmt.Errorf("transaction bytes must be base64: %w", err)
	}
	return s.SignTransaction(txBytes), nil
}

// VerifySignature checks a serialized signature over txBytes. Used by tests
// and diagnostics.
func VerifySignature(txBytes []byte, serialized string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return "", fmt.Errorf("signature must be base64: %w", err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return "", fmt.Errorf("unexpected signature length %d", len(raw))
	}
	if raw[0] != SchemeEd25519 {
		return "", fmt.Errorf("unsupported signature scheme 0x%02x", raw[0])
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	digest := TransactionDigest(txBytes)
	if !ed25519.Verify(pub, digest[:], sig) {
		return "", fmt.Errorf("signature does not verify")
	}
	return AddressFromPublicKey(pub), nil
}
