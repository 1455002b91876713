// Package auth authenticates API callers by Ethereum signature.
//
// Authentication model:
//   - Reads are public.
//   - Calls that act on behalf of an account (buy, claim, withdraw,
//     governance setters) carry three headers: the caller address, a unix
//     timestamp, and an EIP-191 personal_sign signature over
//     "Solace|<METHOD>|<PATH>|<timestamp>".
//   - A signature is accepted once, and only while its timestamp is within
//     the configured skew of the server clock.
package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Header names
const (
	HeaderAddress   = "X-Caller-Address"
	HeaderTimestamp = "X-Caller-Timestamp"
	HeaderSignature = "X-Caller-Signature"
)

// Errors
var (
	ErrMissingHeaders   = errors.New("caller headers required")
	ErrInvalidAddress   = errors.New("invalid caller address")
	ErrInvalidTimestamp = errors.New("invalid caller timestamp")
	ErrStaleTimestamp   = errors.New("caller timestamp outside accepted window")
	ErrInvalidSignature = errors.New("invalid caller signature")
	ErrSignerMismatch   = errors.New("signature does not match caller address")
	ErrReplayed         = errors.New("caller signature already used")
)

// Message is the text a caller signs for one request.
func Message(method, path string, timestamp int64) string {
	return fmt.Sprintf("Solace|%s|%s|%d", strings.ToUpper(method), path, timestamp)
}

// RecoverAddress recovers the EIP-191 signer of message. The signature is
// hex encoded, 65 bytes, with v either 0/1 or 27/28.
func RecoverAddress(message, signatureHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignRequest produces the three caller headers for a request.
func SignRequest(key *ecdsa.PrivateKey, method, path string, at time.Time) (map[string]string, error) {
	ts := at.Unix()
	sig, err := crypto.Sign(accounts.TextHash([]byte(Message(method, path, ts))), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return map[string]string{
		HeaderAddress:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// Verifier checks signed caller headers.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // signature -> expiry
}

// NewVerifier creates a verifier accepting timestamps within maxSkew of now.
func NewVerifier(maxSkew time.Duration) *Verifier {
	return &Verifier{
		maxSkew: maxSkew,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

// Authenticate validates the headers of one request and returns the caller.
func (v *Verifier) Authenticate(method, path, address, timestamp, signature string) (common.Address, error) {
	if address == "" || timestamp == "" || signature == "" {
		return common.Address{}, ErrMissingHeaders
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, ErrInvalidAddress
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return common.Address{}, ErrInvalidTimestamp
	}
	now := v.now()
	at := time.Unix(ts, 0)
	if at.Before(now.Add(-v.maxSkew)) || at.After(now.Add(v.maxSkew)) {
		return common.Address{}, ErrStaleTimestamp
	}

	signer, err := RecoverAddress(Message(method, path, ts), signature)
	if err != nil {
		return common.Address{}, err
	}
	if signer != common.HexToAddress(address) {
		return common.Address{}, ErrSignerMismatch
	}

	key := strings.ToLower(strings.TrimPrefix(signature, "0x"))
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prune(now)
	if _, used := v.seen[key]; used {
		return common.Address{}, ErrReplayed
	}
	v.seen[key] = at.Add(v.maxSkew)
	return signer, nil
}

// prune drops signatures whose timestamps can no longer pass the window.
func (v *Verifier) prune(now time.Time) {
	for sig, exp := range v.seen {
		if now.After(exp) {
			delete(v.seen, sig)
		}
	}
}
