package ethsign

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidKey       = errors.New("invalid private key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer wraps a secp256k1 key behind the minimal surface the rest of the
// system needs: sign a 32-byte digest and report the derived address. The
// canonical message construction lives with the callers (turnproof, attest)
// so that signing and verification share one builder.
type Signer struct {
	key *ecdsa.PrivateKey
}

func NewSigner(hexKey string) (*Signer, error) {
	k := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if k == "" {
		return nil, ErrInvalidKey
	}
	priv, err := crypto.HexToECDSA(k)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Signer{key: priv}, nil
}

func GenerateSigner() (*Signer, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: priv}, nil
}

func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.key))
}

// SignDigest signs a 32-byte Keccak256 digest and returns the 65-byte
// recoverable signature.
func (s *Signer) SignDigest(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

// RecoverAddress recovers the signing address from a 65-byte recoverable
// signature over digest.
func RecoverAddress(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DigestParts Keccak256-hashes the newline-joined parts. Both turn proofs
// and attestations build their signing digest through this helper.
func DigestParts(parts ...string) []byte {
	return crypto.Keccak256([]byte(strings.Join(parts, "\n")))
}

// SameAddress compares two 0x addresses case-insensitively; either side
// being empty never matches.
func SameAddress(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
