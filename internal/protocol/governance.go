package protocol

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/governance"
)

// ErrUnknownComponent is returned for an address that names no governed
// component of the deployment.
var ErrUnknownComponent = errors.New("unknown component")

// GovernanceState is the governor and pending governor of one component.
type GovernanceState struct {
	Component  common.Address `json:"component"`
	Governance common.Address `json:"governance"`
	Pending    common.Address `json:"pendingGovernance"`
}

// governor finds the role holder of a component: the risk manager, the
// policy registry, the claims escrow, a strategy or a product.
func (p *Protocol) governor(component common.Address) (*governance.Governable, error) {
	switch component {
	case p.manager.Address():
		return p.manager.Governor(), nil
	case p.registry.Address():
		return p.registry.Governor(), nil
	case p.escrow.Address():
		return p.escrow.Governor(), nil
	}
	if s, ok := p.strategies[component]; ok {
		return s.Governor(), nil
	}
	if prod, ok := p.products[component]; ok {
		return prod.Governor(), nil
	}
	return nil, ErrUnknownComponent
}

// GovernanceOf reports who governs component.
func (p *Protocol) GovernanceOf(ctx context.Context, component common.Address) (*GovernanceState, error) {
	var st *GovernanceState
	err := p.read(ctx, "GovernanceOf", func(context.Context) error {
		g, err := p.governor(component)
		if err != nil {
			return err
		}
		st = &GovernanceState{Component: component, Governance: g.Governance(), Pending: g.PendingGovernance()}
		return nil
	})
	return st, err
}

// SetPendingGovernance proposes pending as the next governor of component.
// The zero address withdraws a proposal.
func (p *Protocol) SetPendingGovernance(ctx context.Context, caller, component, pending common.Address) error {
	return p.write(ctx, "SetPendingGovernance", func(context.Context) error {
		g, err := p.governor(component)
		if err != nil {
			return err
		}
		return g.SetPendingGovernance(caller, pending)
	})
}

// AcceptGovernance completes a handoff. Only the proposed governor may
// accept.
func (p *Protocol) AcceptGovernance(ctx context.Context, caller, component common.Address) error {
	err := p.write(ctx, "AcceptGovernance", func(context.Context) error {
		g, err := p.governor(component)
		if err != nil {
			return err
		}
		return g.AcceptGovernance(caller)
	})
	if err == nil {
		p.logger.Info("governance transferred", "component", component.Hex(), "governance", caller.Hex())
	}
	return err
}
