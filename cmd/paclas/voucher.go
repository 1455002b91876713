package main

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/solace-fi/coverage/internal/voucher"
)

// voucherFlags are the domain and claim fields shared by every command.
type voucherFlags struct {
	productName string
	product     string
	chainID     int64

	policyID uint64
	claimant string
	amount   string
	deadline string
}

func (v *voucherFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&v.productName, "product-name", "", "product name, e.g. Example (domain name becomes Solace.fi-<name>)")
	f.StringVar(&v.product, "product", "", "product address (EIP-712 verifyingContract)")
	f.Int64Var(&v.chainID, "chain-id", 1, "chain id of the deployment")
	f.Uint64Var(&v.policyID, "policy", 0, "policy id")
	f.StringVar(&v.claimant, "claimant", "", "address receiving the payout")
	f.StringVar(&v.amount, "amount", "", "payout in wei")
	f.StringVar(&v.deadline, "deadline", "", "unix time after which the voucher expires")
}

// build validates the flags and returns the voucher they describe.
func (v *voucherFlags) build() (voucher.Domain, voucher.Claim, error) {
	var errs []error
	if v.productName == "" {
		errs = append(errs, errors.New("--product-name is required"))
	}
	if !common.IsHexAddress(v.product) {
		errs = append(errs, errors.New("--product must be an address"))
	}
	if v.chainID <= 0 {
		errs = append(errs, errors.New("--chain-id must be positive"))
	}
	if v.policyID == 0 {
		errs = append(errs, errors.New("--policy is required"))
	}
	if !common.IsHexAddress(v.claimant) {
		errs = append(errs, errors.New("--claimant must be an address"))
	}
	amount, err := parseUint256("--amount", v.amount)
	if err != nil {
		errs = append(errs, err)
	}
	deadline, err := parseUint256("--deadline", v.deadline)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return voucher.Domain{}, voucher.Claim{}, errors.Join(errs...)
	}

	d := voucher.Domain{
		ProductName:       v.productName,
		ChainID:           big.NewInt(v.chainID),
		VerifyingContract: common.HexToAddress(v.product),
	}
	c := voucher.Claim{
		PolicyID:  v.policyID,
		Claimant:  common.HexToAddress(v.claimant),
		AmountOut: amount,
		Deadline:  deadline,
	}
	return d, c, nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func parseUint256(flag, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", flag)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%s must be a uint256 in base 10", flag)
	}
	return n, nil
}
