package protocol

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/claims"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/metrics"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/traces"
	"github.com/solace-fi/coverage/internal/vault"
)

// Quote prices cover on a product for a number of blocks.
func (p *Protocol) Quote(ctx context.Context, productAddr common.Address, cover *big.Int, blocks uint64) (*big.Int, error) {
	var quote *big.Int
	err := p.read(ctx, "Quote", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		quote, err = prod.GetQuote(cover, blocks)
		return err
	}, traces.Product(productAddr.Hex()))
	return quote, err
}

// BuyPolicy sells cover on a product. value is the premium the caller pays.
func (p *Protocol) BuyPolicy(ctx context.Context, productAddr, caller, holder common.Address, cover *big.Int, blocks uint64, description []byte, value *big.Int) (*policy.Policy, error) {
	var pol *policy.Policy
	err := p.write(ctx, "BuyPolicy", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		pol, err = prod.BuyPolicy(ctx, caller, holder, cover, blocks, description, value)
		return err
	}, traces.Product(productAddr.Hex()), traces.Caller(caller.Hex()))
	metrics.PolicyOpsTotal.WithLabelValues("buy", metrics.Result(err)).Inc()
	if err == nil {
		p.logger.Info("policy bought", "policyID", pol.ID, "product", productAddr.Hex(), "holder", holder.Hex(), "cover", cover.String())
	}
	return pol, err
}

// ExtendPolicy lengthens a policy by extension blocks.
func (p *Protocol) ExtendPolicy(ctx context.Context, productAddr, caller common.Address, id, extension uint64, value *big.Int) (*policy.Policy, error) {
	var pol *policy.Policy
	err := p.write(ctx, "ExtendPolicy", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		pol, err = prod.ExtendPolicy(ctx, caller, id, extension, value)
		return err
	}, traces.PolicyID(id))
	metrics.PolicyOpsTotal.WithLabelValues("extend", metrics.Result(err)).Inc()
	return pol, err
}

// UpdateCoverAmount changes a policy's cover.
func (p *Protocol) UpdateCoverAmount(ctx context.Context, productAddr, caller common.Address, id uint64, cover, value *big.Int) (*policy.Policy, error) {
	var pol *policy.Policy
	err := p.write(ctx, "UpdateCoverAmount", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		pol, err = prod.UpdateCoverAmount(ctx, caller, id, cover, value)
		return err
	}, traces.PolicyID(id))
	metrics.PolicyOpsTotal.WithLabelValues("update", metrics.Result(err)).Inc()
	return pol, err
}

// CancelPolicy burns a policy and refunds its unused premium.
func (p *Protocol) CancelPolicy(ctx context.Context, productAddr, caller common.Address, id uint64) (*big.Int, error) {
	var refund *big.Int
	err := p.write(ctx, "CancelPolicy", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		refund, err = prod.CancelPolicy(ctx, caller, id)
		return err
	}, traces.PolicyID(id))
	metrics.PolicyOpsTotal.WithLabelValues("cancel", metrics.Result(err)).Inc()
	return refund, err
}

// ClaimDigest returns the voucher digest for a claim on a product.
func (p *Protocol) ClaimDigest(productAddr common.Address, id uint64, claimant common.Address, amountOut, deadline *big.Int) (common.Hash, error) {
	prod, err := p.product(productAddr)
	if err != nil {
		return common.Hash{}, err
	}
	return prod.ClaimDigest(id, claimant, amountOut, deadline)
}

// SubmitClaim redeems a signed claim voucher.
func (p *Protocol) SubmitClaim(ctx context.Context, productAddr, caller common.Address, id uint64, amountOut, deadline *big.Int, sig []byte) error {
	err := p.write(ctx, "SubmitClaim", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		return prod.SubmitClaim(ctx, caller, id, amountOut, deadline, sig)
	}, traces.PolicyID(id), traces.Amount(bigString(amountOut)))
	metrics.PolicyOpsTotal.WithLabelValues("claim", metrics.Result(err)).Inc()
	if err == nil {
		p.logger.Info("claim submitted", "policyID", id, "claimant", caller.Hex(), "amount", amountOut.String())
	}
	return err
}

// WithdrawClaimsPayout pays out a claim whose cooldown has elapsed.
func (p *Protocol) WithdrawClaimsPayout(ctx context.Context, caller common.Address, id uint64) (*big.Int, error) {
	var paid *big.Int
	err := p.write(ctx, "WithdrawClaimsPayout", func(ctx context.Context) error {
		var err error
		paid, err = p.escrow.WithdrawClaimsPayout(ctx, caller, id)
		return err
	}, traces.ClaimID(id))
	metrics.ClaimOpsTotal.WithLabelValues("withdraw", metrics.Result(err)).Inc()
	return paid, err
}

// AdjustClaim changes a pending claim's amount.
func (p *Protocol) AdjustClaim(ctx context.Context, caller common.Address, id uint64, amount *big.Int) error {
	err := p.write(ctx, "AdjustClaim", func(ctx context.Context) error {
		return p.escrow.AdjustClaim(ctx, caller, id, amount)
	}, traces.ClaimID(id))
	metrics.ClaimOpsTotal.WithLabelValues("adjust", metrics.Result(err)).Inc()
	return err
}

// SetCooldownPeriod changes the claims cooldown.
func (p *Protocol) SetCooldownPeriod(ctx context.Context, caller common.Address, d time.Duration) error {
	return p.write(ctx, "SetCooldownPeriod", func(ctx context.Context) error {
		return p.escrow.SetCooldownPeriod(caller, d)
	})
}

// ClaimInfo is a pending claim with its withdrawal status.
type ClaimInfo struct {
	*claims.Claim
	Withdrawable bool          `json:"withdrawable"`
	TimeLeft     time.Duration `json:"timeLeft"`
}

// GetClaim returns a pending claim and its status.
func (p *Protocol) GetClaim(ctx context.Context, id uint64) (*ClaimInfo, error) {
	var info *ClaimInfo
	err := p.read(ctx, "GetClaim", func(ctx context.Context) error {
		var err error
		info, err = p.claimInfo(ctx, id)
		return err
	}, traces.ClaimID(id))
	return info, err
}

// ListClaims returns the pending claims of a claimant.
func (p *Protocol) ListClaims(ctx context.Context, claimant common.Address) ([]*ClaimInfo, error) {
	var out []*ClaimInfo
	err := p.read(ctx, "ListClaims", func(ctx context.Context) error {
		list, err := p.escrow.ListClaims(ctx, claimant)
		if err != nil {
			return err
		}
		out = make([]*ClaimInfo, 0, len(list))
		for _, c := range list {
			info, err := p.claimInfo(ctx, c.ID)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

func (p *Protocol) claimInfo(ctx context.Context, id uint64) (*ClaimInfo, error) {
	c, err := p.escrow.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := p.escrow.IsWithdrawable(ctx, id)
	if err != nil {
		return nil, err
	}
	left, err := p.escrow.TimeLeft(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ClaimInfo{Claim: c, Withdrawable: ok, TimeLeft: left}, nil
}

// PolicyInfo is a policy with its status at the current block.
type PolicyInfo struct {
	*policy.Policy
	Active bool `json:"active"`
}

// GetPolicy returns a policy and whether it is still active.
func (p *Protocol) GetPolicy(ctx context.Context, id uint64) (*PolicyInfo, error) {
	var info *PolicyInfo
	err := p.read(ctx, "GetPolicy", func(ctx context.Context) error {
		pol, err := p.registry.GetPolicyInfo(ctx, id)
		if err != nil {
			return err
		}
		info = &PolicyInfo{Policy: pol, Active: pol.ActiveAt(p.clock.BlockNumber())}
		return nil
	}, traces.PolicyID(id))
	return info, err
}

// ListPolicies returns the policies a holder owns.
func (p *Protocol) ListPolicies(ctx context.Context, holder common.Address) ([]*PolicyInfo, error) {
	var out []*PolicyInfo
	err := p.read(ctx, "ListPolicies", func(ctx context.Context) error {
		list, err := p.registry.ListPolicies(ctx, holder)
		if err != nil {
			return err
		}
		block := p.clock.BlockNumber()
		out = make([]*PolicyInfo, len(list))
		for i, pol := range list {
			out[i] = &PolicyInfo{Policy: pol, Active: pol.ActiveAt(block)}
		}
		return nil
	})
	return out, err
}

// TransferPolicy moves a policy to a new holder.
func (p *Protocol) TransferPolicy(ctx context.Context, caller, to common.Address, id uint64) error {
	return p.write(ctx, "TransferPolicy", func(ctx context.Context) error {
		return p.registry.TransferFrom(ctx, caller, caller, to, id)
	}, traces.PolicyID(id))
}

// UpdateActivePolicies burns the expired policies among ids.
func (p *Protocol) UpdateActivePolicies(ctx context.Context, ids []uint64) (int, error) {
	var n int
	err := p.write(ctx, "UpdateActivePolicies", func(ctx context.Context) error {
		var err error
		n, err = p.registry.UpdateActivePolicies(ctx, ids)
		return err
	})
	metrics.PolicyOpsTotal.WithLabelValues("expire", metrics.Result(err)).Add(float64(n))
	return n, err
}

// SweepExpired burns up to limit expired policies. It satisfies
// policy.ExpiredSweeper so the background sweeper runs under the lock.
func (p *Protocol) SweepExpired(ctx context.Context, limit int) (int, error) {
	start := time.Now()
	var n int
	err := p.write(ctx, "SweepExpired", func(ctx context.Context) error {
		var err error
		n, err = p.registry.SweepExpired(ctx, limit)
		return err
	})
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.PolicyOpsTotal.WithLabelValues("expire", metrics.Result(err)).Add(float64(n))
	return n, err
}

// Deposit adds capital to the pool.
func (p *Protocol) Deposit(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := p.write(ctx, "Deposit", func(ctx context.Context) error {
		var err error
		shares, err = p.vault.Deposit(ctx, caller, amount)
		return err
	}, traces.Caller(caller.Hex()), traces.Amount(bigString(amount)))
	return shares, err
}

// Withdraw redeems pool shares.
func (p *Protocol) Withdraw(ctx context.Context, caller common.Address, shares *big.Int) (*big.Int, error) {
	var amount *big.Int
	err := p.write(ctx, "Withdraw", func(ctx context.Context) error {
		var err error
		amount, err = p.vault.Withdraw(ctx, caller, shares)
		return err
	}, traces.Caller(caller.Hex()))
	return amount, err
}

// Mint credits native asset to an account. Governance only; used to fund
// accounts on development deployments.
func (p *Protocol) Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	return p.write(ctx, "Mint", func(ctx context.Context) error {
		if caller != p.governance {
			return governance.ErrNotGovernance
		}
		if amount == nil || amount.Sign() <= 0 {
			return vault.ErrZeroAmount
		}
		return p.ledger.Mint(ctx, chain.NativeAsset, to, amount, "faucet")
	})
}

// Account is an account's native balance and pool shares.
type Account struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"`
	Shares  string         `json:"shares"`
}

// Account returns an account's balances.
func (p *Protocol) Account(ctx context.Context, addr common.Address) (*Account, error) {
	var acct *Account
	err := p.read(ctx, "Account", func(ctx context.Context) error {
		bal, err := p.ledger.NativeBalance(ctx, addr)
		if err != nil {
			return err
		}
		shares, err := p.vault.SharesOf(ctx, addr)
		if err != nil {
			return err
		}
		acct = &Account{Address: addr, Balance: bal.String(), Shares: shares.String()}
		return nil
	})
	return acct, err
}

// SetPaused pauses or resumes a product.
func (p *Protocol) SetPaused(ctx context.Context, caller, productAddr common.Address, paused bool) error {
	return p.write(ctx, "SetPaused", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		return prod.SetPaused(caller, paused)
	})
}

// SetSigner authorizes or revokes a claims signer on a product.
func (p *Protocol) SetSigner(ctx context.Context, caller, productAddr, signer common.Address, allowed bool) error {
	return p.write(ctx, "SetSigner", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		if allowed {
			return prod.AddSigner(caller, signer)
		}
		return prod.RemoveSigner(caller, signer)
	})
}

// SetCoveredAsset allows or disallows an asset in a product's position
// descriptions.
func (p *Protocol) SetCoveredAsset(ctx context.Context, caller, productAddr, asset common.Address, allowed bool) error {
	return p.write(ctx, "SetCoveredAsset", func(ctx context.Context) error {
		prod, err := p.product(productAddr)
		if err != nil {
			return err
		}
		if allowed {
			return prod.AddCoveredAsset(caller, asset)
		}
		return prod.RemoveCoveredAsset(caller, asset)
	})
}

// SetProductParams adds a product to a strategy or updates its parameters.
func (p *Protocol) SetProductParams(ctx context.Context, caller, strategyAddr, productAddr common.Address, params risk.ProductParams) error {
	return p.write(ctx, "SetProductParams", func(ctx context.Context) error {
		s, err := p.strategy(strategyAddr)
		if err != nil {
			return err
		}
		return s.AddProduct(caller, productAddr, params.Weight, params.Price, params.Divisor)
	})
}

// RemoveStrategyProduct removes a product from a strategy.
func (p *Protocol) RemoveStrategyProduct(ctx context.Context, caller, strategyAddr, productAddr common.Address) error {
	return p.write(ctx, "RemoveStrategyProduct", func(ctx context.Context) error {
		s, err := p.strategy(strategyAddr)
		if err != nil {
			return err
		}
		return s.RemoveProduct(caller, productAddr)
	})
}

// SetStrategyStatus activates or deactivates a strategy.
func (p *Protocol) SetStrategyStatus(ctx context.Context, caller, strategyAddr common.Address, active bool) error {
	return p.write(ctx, "SetStrategyStatus", func(ctx context.Context) error {
		return p.manager.SetStrategyStatus(caller, strategyAddr, active)
	})
}

// SetWeightAllocation changes a strategy's share of capital.
func (p *Protocol) SetWeightAllocation(ctx context.Context, caller, strategyAddr common.Address, weight uint32) error {
	return p.write(ctx, "SetWeightAllocation", func(ctx context.Context) error {
		return p.manager.SetWeightAllocation(ctx, caller, strategyAddr, weight)
	})
}

// SetPartialReservesFactor changes the leverage applied to the capital requirement.
func (p *Protocol) SetPartialReservesFactor(ctx context.Context, caller common.Address, bps uint16) error {
	return p.write(ctx, "SetPartialReservesFactor", func(ctx context.Context) error {
		return p.manager.SetPartialReservesFactor(caller, bps)
	})
}

// Products returns every product in deployment order.
func (p *Protocol) Products() []common.Address {
	return append([]common.Address(nil), p.productOrder...)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
