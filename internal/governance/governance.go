// Package governance implements the governor role shared by protocol components.
//
// Transfer of the role is two-phase: the current governor proposes a pending
// governor, and only that pending governor can accept. The older single-step
// SetGovernance is kept for components deployed before the handshake existed.
package governance

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
)

var (
	ErrNotGovernance        = errors.New("!governance")
	ErrNotPendingGovernance = errors.New("!pending governance")
	ErrZeroGovernance       = errors.New("zero address governance")
)

const (
	EventGovernancePending     = "GovernancePending"
	EventGovernanceTransferred = "GovernanceTransferred"
)

// Governable holds the governor and pending governor of one component.
// It is not safe for concurrent use; callers serialize through the protocol lock.
type Governable struct {
	self       common.Address
	governance common.Address
	pending    common.Address
	events     events.Emitter
}

// New creates a Governable owned by governance. self identifies the component in events.
func New(self, governance common.Address, emitter events.Emitter) (*Governable, error) {
	if chain.IsZero(governance) {
		return nil, ErrZeroGovernance
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Governable{self: self, governance: governance, events: emitter}, nil
}

// Governance returns the current governor.
func (g *Governable) Governance() common.Address { return g.governance }

// PendingGovernance returns the proposed governor, or the zero address.
func (g *Governable) PendingGovernance() common.Address { return g.pending }

// Require returns ErrNotGovernance unless caller is the governor.
func (g *Governable) Require(caller common.Address) error {
	if caller != g.governance {
		return ErrNotGovernance
	}
	return nil
}

// SetPendingGovernance proposes a new governor. The zero address clears the proposal.
func (g *Governable) SetPendingGovernance(caller, pending common.Address) error {
	if err := g.Require(caller); err != nil {
		return err
	}
	g.pending = pending
	g.events.Emit(g.self, EventGovernancePending, map[string]any{"pendingGovernance": pending})
	return nil
}

// AcceptGovernance completes the transfer. Only the pending governor may call it.
func (g *Governable) AcceptGovernance(caller common.Address) error {
	if chain.IsZero(g.pending) || caller != g.pending {
		return ErrNotPendingGovernance
	}
	g.governance = g.pending
	g.pending = common.Address{}
	g.events.Emit(g.self, EventGovernanceTransferred, map[string]any{"newGovernance": g.governance})
	return nil
}

// SetGovernance transfers the role in one step.
func (g *Governable) SetGovernance(caller, governance common.Address) error {
	if err := g.Require(caller); err != nil {
		return err
	}
	if chain.IsZero(governance) {
		return ErrZeroGovernance
	}
	g.governance = governance
	g.pending = common.Address{}
	g.events.Emit(g.self, EventGovernanceTransferred, map[string]any{"newGovernance": governance})
	return nil
}
