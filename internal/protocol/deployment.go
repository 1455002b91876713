package protocol

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/validation"
)

// Deployment describes the components of one protocol instance: who governs
// it, where each component lives, and which strategies and products exist.
type Deployment struct {
	ChainID               int64          `yaml:"chainId"`
	Governance            string         `yaml:"governance"`
	PartialReservesFactor uint16         `yaml:"partialReservesFactor"`
	ClaimsCooldown        time.Duration  `yaml:"claimsCooldown"`
	Addresses             Addresses      `yaml:"addresses"`
	Strategies            []StrategySpec `yaml:"strategies"`
	Products              []ProductSpec  `yaml:"products"`
}

// Addresses names the singleton components.
type Addresses struct {
	Registry     string `yaml:"registry"`
	RiskManager  string `yaml:"riskManager"`
	Vault        string `yaml:"vault"`
	ClaimsEscrow string `yaml:"claimsEscrow"`
}

// StrategySpec is a risk strategy and the products it prices.
type StrategySpec struct {
	Address          string                `yaml:"address"`
	Active           bool                  `yaml:"active"`
	WeightAllocation uint32                `yaml:"weightAllocation"`
	Products         []StrategyProductSpec `yaml:"products"`
}

// StrategyProductSpec is one product's parameters within a strategy.
type StrategyProductSpec struct {
	Product            string `yaml:"product"`
	risk.ProductParams `yaml:",inline"`
}

// ProductSpec configures a product.
type ProductSpec struct {
	Name          string   `yaml:"name"`
	Address       string   `yaml:"address"`
	Strategy      string   `yaml:"strategy"`
	MinPeriod     uint64   `yaml:"minPeriod"`
	MaxPeriod     uint64   `yaml:"maxPeriod"`
	Paused        bool     `yaml:"paused"`
	Signers       []string `yaml:"signers"`
	CoveredAssets []string `yaml:"coveredAssets"`
}

// LoadDeployment reads and validates a YAML deployment file.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment: %w", err)
	}
	return ParseDeployment(data)
}

// ParseDeployment decodes and validates a YAML deployment.
func ParseDeployment(data []byte) (*Deployment, error) {
	var d Deployment
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to parse deployment: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks addresses, references between strategies and products,
// and product periods. It does not check strategy weights; the strategy
// itself rejects bad parameters when the deployment is applied.
func (d *Deployment) Validate() error {
	var errs []error
	addr := func(field, v string) {
		if !validation.IsAddress(v) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", field, v))
		}
	}

	if d.ChainID <= 0 {
		errs = append(errs, errors.New("chainId must be positive"))
	}
	addr("governance", d.Governance)
	addr("addresses.registry", d.Addresses.Registry)
	addr("addresses.riskManager", d.Addresses.RiskManager)
	addr("addresses.vault", d.Addresses.Vault)
	addr("addresses.claimsEscrow", d.Addresses.ClaimsEscrow)
	if d.ClaimsCooldown < 0 {
		errs = append(errs, errors.New("claimsCooldown must not be negative"))
	}

	strategies := make(map[common.Address]bool)
	for i, s := range d.Strategies {
		field := fmt.Sprintf("strategies[%d]", i)
		addr(field+".address", s.Address)
		a := common.HexToAddress(s.Address)
		if strategies[a] {
			errs = append(errs, fmt.Errorf("%s: duplicate strategy %s", field, s.Address))
		}
		strategies[a] = true
		if s.Active && s.WeightAllocation == 0 {
			errs = append(errs, fmt.Errorf("%s: active strategy needs a weightAllocation", field))
		}
		for j, p := range s.Products {
			addr(fmt.Sprintf("%s.products[%d].product", field, j), p.Product)
		}
	}

	names := make(map[string]bool)
	products := make(map[common.Address]bool)
	for i, p := range d.Products {
		field := fmt.Sprintf("products[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", field))
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate product name %q", field, p.Name))
		}
		names[p.Name] = true
		addr(field+".address", p.Address)
		a := common.HexToAddress(p.Address)
		if products[a] {
			errs = append(errs, fmt.Errorf("%s: duplicate product address %s", field, p.Address))
		}
		products[a] = true
		addr(field+".strategy", p.Strategy)
		if validation.IsAddress(p.Strategy) && !strategies[common.HexToAddress(p.Strategy)] {
			errs = append(errs, fmt.Errorf("%s: unknown strategy %s", field, p.Strategy))
		}
		if p.MinPeriod > p.MaxPeriod {
			errs = append(errs, fmt.Errorf("%s: minPeriod exceeds maxPeriod", field))
		}
		for j, s := range p.Signers {
			addr(fmt.Sprintf("%s.signers[%d]", field, j), s)
		}
		for j, a := range p.CoveredAssets {
			addr(fmt.Sprintf("%s.coveredAssets[%d]", field, j), a)
		}
	}
	return errors.Join(errs...)
}

func hexes(in []string) []common.Address {
	out := make([]common.Address, len(in))
	for i, s := range in {
		out[i] = common.HexToAddress(s)
	}
	return out
}
