package voucher

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/solace-fi/coverage/internal/circuitbreaker"
)

// EIP-1271 isValidSignature(bytes32,bytes) magic value.
var magicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const erc1271ABI = `[
	{"constant":true,"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"magicValue","type":"bytes4"}],"type":"function"}
]`

// ContractCaller executes read-only contract calls. *ethclient.Client implements it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Verifier checks voucher signatures against a signer whitelist. ECDSA
// recovery is tried first; whitelisted contract signers are then asked
// through EIP-1271 when a ContractCaller is configured.
type Verifier struct {
	caller ContractCaller
	abi    abi.ABI
}

// NewVerifier creates a verifier. caller may be nil to disable EIP-1271.
func NewVerifier(caller ContractCaller) *Verifier {
	parsed, err := abi.JSON(strings.NewReader(erc1271ABI))
	if err != nil {
		panic(fmt.Sprintf("voucher: bad erc1271 abi: %v", err))
	}
	return &Verifier{caller: caller, abi: parsed}
}

// DialVerifier connects to an RPC endpoint for EIP-1271 checks. Calls to
// each signer contract go through their own circuit breaker.
func DialVerifier(rpcURL string) (*Verifier, func(), error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return NewVerifier(Guarded(client, circuitbreaker.New("erc1271", 3, time.Minute))), client.Close, nil
}

// Guarded wraps caller so calls to a contract that keeps failing are
// short-circuited instead of stalling claim submission.
func Guarded(caller ContractCaller, breaker *circuitbreaker.Breaker) ContractCaller {
	return &guardedCaller{next: caller, breaker: breaker}
}

type guardedCaller struct {
	next    ContractCaller
	breaker *circuitbreaker.Breaker
}

func (g *guardedCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	key := "unknown"
	if call.To != nil {
		key = call.To.Hex()
	}
	var out []byte
	err := g.breaker.Execute(key, func() error {
		var err error
		out, err = g.next.CallContract(ctx, call, blockNumber)
		return err
	})
	return out, err
}

// Verify returns the whitelisted signer that authorized digest, or
// ErrInvalidSignature.
func (v *Verifier) Verify(ctx context.Context, digest common.Hash, sig []byte, signers []common.Address) (common.Address, error) {
	recovered, err := Recover(digest, sig)
	if err == nil {
		for _, s := range signers {
			if s == recovered {
				return s, nil
			}
		}
	}
	if v.caller == nil {
		return common.Address{}, ErrInvalidSignature
	}
	for _, s := range signers {
		ok, err := v.isValidContractSignature(ctx, s, digest, sig)
		if err != nil {
			continue
		}
		if ok {
			return s, nil
		}
	}
	return common.Address{}, ErrInvalidSignature
}

func (v *Verifier) isValidContractSignature(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	data, err := v.abi.Pack("isValidSignature", [32]byte(digest), sig)
	if err != nil {
		return false, fmt.Errorf("failed to pack isValidSignature: %w", err)
	}
	result, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("failed to call isValidSignature: %w", err)
	}
	if len(result) < 4 {
		return false, nil
	}
	var got [4]byte
	copy(got[:], result[:4])
	return got == magicValue, nil
}
