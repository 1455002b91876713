// Package voucher builds and checks claim vouchers: EIP-712 typed-data
// signatures by which an authorized claims signer approves a payout for one
// policy.
//
// A voucher binds (policyID, claimant, amountOut, deadline) under a domain
// naming the product and its address, so altering any field or the domain
// invalidates the signature. There is no nonce; a voucher is single-use
// because the policy is burned when it is redeemed.
package voucher

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// ProtocolName prefixes every product's domain name.
	ProtocolName = "Solace.fi"
	// Version is the EIP-712 domain version.
	Version = "1"
	// SignatureLength is r || s || v.
	SignatureLength = 65
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureLength  = fmt.Errorf("%w: want %d bytes", ErrInvalidSignature, SignatureLength)
	ErrRecoveryID       = fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
)

// Domain identifies the product a voucher is redeemable at.
type Domain struct {
	ProductName       string         `json:"productName"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// Name returns the EIP-712 domain name, "Solace.fi-<product>".
func (d Domain) Name() string {
	return ProtocolName + "-" + d.ProductName
}

// PrimaryType returns the signed struct's type name, "<product>SubmitClaim".
func (d Domain) PrimaryType() string {
	return d.ProductName + "SubmitClaim"
}

// Claim is the voucher payload.
type Claim struct {
	PolicyID  uint64         `json:"policyID"`
	Claimant  common.Address `json:"claimant"`
	AmountOut *big.Int       `json:"amountOut"`
	Deadline  *big.Int       `json:"deadline"`
}

// TypedData assembles the EIP-712 document a signer signs.
func TypedData(d Domain, c Claim) apitypes.TypedData {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			d.PrimaryType(): {
				{Name: "policyID", Type: "uint256"},
				{Name: "claimant", Type: "address"},
				{Name: "amountOut", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: d.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name(),
			Version:           Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"policyID":  new(big.Int).SetUint64(c.PolicyID).String(),
			"claimant":  c.Claimant.Hex(),
			"amountOut": bigString(c.AmountOut),
			"deadline":  bigString(c.Deadline),
		},
	}
}

// Digest returns keccak256("\x19\x01" || domainSeparator || hashStruct(claim)).
func Digest(d Domain, c Claim) (common.Hash, error) {
	return HashTypedData(TypedData(d, c))
}

// HashTypedData hashes an arbitrary typed-data document.
func HashTypedData(td apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Sign produces a 65-byte signature with v in {27, 28}.
func Sign(key *ecdsa.PrivateKey, d Domain, c Claim) ([]byte, error) {
	digest, err := Digest(d, c)
	if err != nil {
		return nil, err
	}
	return SignDigest(key, digest)
}

// SignDigest signs a precomputed digest.
func SignDigest(key *ecdsa.PrivateKey, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Recover returns the address that signed digest. v may be 0, 1, 27 or 28.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	switch v := normalized[64]; v {
	case 0, 1:
	case 27, 28:
		normalized[64] = v - 27
	default:
		return common.Address{}, ErrRecoveryID
	}
	// Only low-s signatures are accepted so each voucher has one encoding.
	r := new(big.Int).SetBytes(normalized[:32])
	sv := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[64], r, sv, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
