package product

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
)

// SetPaused stops or resumes sales and policy changes. Claims and
// cancellations stay open.
func (p *Product) SetPaused(caller common.Address, paused bool) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	p.paused = paused
	p.deps.Events.Emit(p.address, EventPausedSet, map[string]any{"paused": paused})
	return nil
}

// SetMinPeriod sets the shortest policy, in blocks.
func (p *Product) SetMinPeriod(caller common.Address, blocks uint64) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	if blocks > p.maxPeriod {
		return ErrInvalidPeriod
	}
	p.minPeriod = blocks
	p.deps.Events.Emit(p.address, EventMinPeriodSet, map[string]any{"minPeriod": blocks})
	return nil
}

// SetMaxPeriod sets the longest policy, in blocks.
func (p *Product) SetMaxPeriod(caller common.Address, blocks uint64) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	if blocks < p.minPeriod {
		return ErrInvalidPeriod
	}
	p.maxPeriod = blocks
	p.deps.Events.Emit(p.address, EventMaxPeriodSet, map[string]any{"maxPeriod": blocks})
	return nil
}

// AddSigner authorizes a claims signer.
func (p *Product) AddSigner(caller, signer common.Address) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	if chain.IsZero(signer) {
		return ErrZeroSigner
	}
	if p.IsAuthorizedSigner(signer) {
		return nil
	}
	p.signers = append(p.signers, signer)
	p.deps.Events.Emit(p.address, EventSignerAdded, map[string]any{"signer": signer})
	return nil
}

// RemoveSigner revokes a claims signer.
func (p *Product) RemoveSigner(caller, signer common.Address) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	for i, s := range p.signers {
		if s == signer {
			p.signers = append(p.signers[:i], p.signers[i+1:]...)
			p.deps.Events.Emit(p.address, EventSignerRemoved, map[string]any{"signer": signer})
			return nil
		}
	}
	return nil
}

// IsAuthorizedSigner reports whether signer may approve claims.
func (p *Product) IsAuthorizedSigner(signer common.Address) bool {
	for _, s := range p.signers {
		if s == signer {
			return true
		}
	}
	return false
}

// Signers returns the authorized claims signers.
func (p *Product) Signers() []common.Address {
	return append([]common.Address(nil), p.signers...)
}

// AddCoveredAsset allows asset in position descriptions.
func (p *Product) AddCoveredAsset(caller, asset common.Address) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	if chain.IsZero(asset) {
		return ErrZeroAsset
	}
	if p.coveredAssets[asset] {
		return nil
	}
	p.coveredAssets[asset] = true
	p.assetOrder = append(p.assetOrder, asset)
	p.deps.Events.Emit(p.address, EventCoveredAssetAdded, map[string]any{"asset": asset})
	return nil
}

// RemoveCoveredAsset disallows asset in new position descriptions. Existing
// policies keep their description.
func (p *Product) RemoveCoveredAsset(caller, asset common.Address) error {
	if err := p.gov.Require(caller); err != nil {
		return err
	}
	if !p.coveredAssets[asset] {
		return nil
	}
	delete(p.coveredAssets, asset)
	for i, a := range p.assetOrder {
		if a == asset {
			p.assetOrder = append(p.assetOrder[:i], p.assetOrder[i+1:]...)
			break
		}
	}
	p.deps.Events.Emit(p.address, EventCoveredAssetRemoved, map[string]any{"asset": asset})
	return nil
}

// IsCoveredAsset reports whether asset may appear in a position description.
func (p *Product) IsCoveredAsset(asset common.Address) bool { return p.coveredAssets[asset] }

// CoveredAssets returns the covered assets in the order they were added.
func (p *Product) CoveredAssets() []common.Address {
	return append([]common.Address(nil), p.assetOrder...)
}

// ValidatePositionDescription reports whether description is a non-empty
// concatenation of covered asset addresses.
func (p *Product) ValidatePositionDescription(description []byte) bool {
	if len(description) == 0 || len(description)%common.AddressLength != 0 {
		return false
	}
	for _, asset := range DecodePositionDescription(description) {
		if !p.coveredAssets[asset] {
			return false
		}
	}
	return true
}

// EncodePositionDescription concatenates asset addresses.
func EncodePositionDescription(assets ...common.Address) []byte {
	out := make([]byte, 0, len(assets)*common.AddressLength)
	for _, a := range assets {
		out = append(out, a.Bytes()...)
	}
	return out
}

// DecodePositionDescription splits a description into addresses. A trailing
// partial address is ignored.
func DecodePositionDescription(description []byte) []common.Address {
	n := len(description) / common.AddressLength
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.BytesToAddress(description[i*common.AddressLength : (i+1)*common.AddressLength])
	}
	return out
}
