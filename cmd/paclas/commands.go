package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/solace-fi/coverage/internal/voucher"
)

// keyEnv holds the signer key when --key is not given.
const keyEnv = "PACLAS_PRIVATE_KEY"

func newDigestCmd(v *voucherFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print the EIP-712 digest of a claim voucher",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, c, err := v.build()
			if err != nil {
				return err
			}
			digest, err := voucher.Digest(d, c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest.Hex())
			return nil
		},
	}
}

// signedVoucher is what sign prints: everything a claimant needs to call
// SubmitClaim.
type signedVoucher struct {
	Domain    string        `json:"domain"`
	Product   string        `json:"product"`
	ChainID   int64         `json:"chainId"`
	PolicyID  uint64        `json:"policyID"`
	Claimant  string        `json:"claimant"`
	AmountOut string        `json:"amountOut"`
	Deadline  string        `json:"deadline"`
	Digest    common.Hash   `json:"digest"`
	Signer    string        `json:"signer"`
	Signature hexutil.Bytes `json:"signature"`
}

func newSignCmd(v *voucherFlags) *cobra.Command {
	var keyHex string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a claim voucher and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadKey(keyHex)
			if err != nil {
				return err
			}
			d, c, err := v.build()
			if err != nil {
				return err
			}
			digest, err := voucher.Digest(d, c)
			if err != nil {
				return err
			}
			sig, err := voucher.SignDigest(key, digest)
			if err != nil {
				return fmt.Errorf("sign: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(signedVoucher{
				Domain:    d.Name(),
				Product:   d.VerifyingContract.Hex(),
				ChainID:   v.chainID,
				PolicyID:  c.PolicyID,
				Claimant:  c.Claimant.Hex(),
				AmountOut: c.AmountOut.String(),
				Deadline:  c.Deadline.String(),
				Digest:    digest,
				Signer:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
				Signature: sig,
			})
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "hex private key (default $"+keyEnv+")")
	return cmd
}

func newVerifyCmd(v *voucherFlags) *cobra.Command {
	var (
		sigHex  string
		signers []string
		rpcURL  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a voucher signature against the authorized signers",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, c, err := v.build()
			if err != nil {
				return err
			}
			sig, err := hexutil.Decode(sigHex)
			if err != nil {
				return fmt.Errorf("--signature: %w", err)
			}
			if len(signers) == 0 {
				return errors.New("--signers is required")
			}
			allowed := make([]common.Address, 0, len(signers))
			for _, s := range signers {
				if !common.IsHexAddress(s) {
					return fmt.Errorf("--signers: %q is not an address", s)
				}
				allowed = append(allowed, common.HexToAddress(s))
			}

			verifier := voucher.NewVerifier(nil)
			if rpcURL != "" {
				dialed, closeRPC, err := voucher.DialVerifier(rpcURL)
				if err != nil {
					return err
				}
				defer closeRPC()
				verifier = dialed
			}

			digest, err := voucher.Digest(d, c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			signer, err := verifier.Verify(ctx, digest, sig, allowed)
			if err != nil {
				return fmt.Errorf("voucher rejected: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid: signed by %s\n", signer.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&sigHex, "signature", "", "0x-prefixed 65-byte signature")
	cmd.Flags().StringSliceVar(&signers, "signers", nil, "authorized signer addresses")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "RPC endpoint for EIP-1271 contract signers")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "verification timeout")
	return cmd
}

func loadKey(keyHex string) (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		keyHex = os.Getenv(keyEnv)
	}
	if keyHex == "" {
		return nil, fmt.Errorf("--key or $%s is required", keyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
