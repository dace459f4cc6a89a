package rpcrouter

import "strings"

// PricingModel selects how a provider meters usage.
type PricingModel string

const (
	// PricingFlat bills one unit per request.
	PricingFlat PricingModel = "flat"
	// PricingComputeUnit bills per-method compute units.
	PricingComputeUnit PricingModel = "compute_unit"
	// PricingCredit bills per-method credits with a "default" fallback.
	PricingCredit PricingModel = "credit"
)

// Candidate priorities. Free capacity drains before paid capacity.
const (
	PriorityFree = 1
	PriorityPaid = 2
)

// BestProvider is the reserved name of the routing pseudo-provider. It
// never appears as a dispatch target and is excluded from candidate
// sets, snapshots and aggregates.
const BestProvider = "Best"

// IsBest reports whether name refers to the routing pseudo-provider.
func IsBest(name string) bool {
	return strings.EqualFold(name, BestProvider)
}

// Unit costs assumed when a method has no configured cost.
const (
	defaultComputeUnits int64 = 10
	defaultCredits      int64 = 20
)

// PricingTiers is a two-tier volume price: LowVolumePrice applies until
// cumulative units exceed Threshold, HighVolumePrice after.
type PricingTiers struct {
	Threshold       int64   `yaml:"threshold" json:"threshold"`
	LowVolumePrice  float64 `yaml:"low_volume_price" json:"low_volume_price"`
	HighVolumePrice float64 `yaml:"high_volume_price" json:"high_volume_price"`
}

// Provider is one upstream JSON-RPC endpoint with its routing tier and
// pricing terms resolved.
type Provider struct {
	Name         string
	BaseURL      string
	Priority     int
	LimitRPS     int
	LimitMonthly int64
	Pricing      PricingModel
	MethodCosts  map[string]int64
	Tiers        PricingTiers
}

// CostOf returns the quota units one call to method consumes.
func (p Provider) CostOf(method string) int64 {
	switch p.Pricing {
	case PricingComputeUnit:
		if c, ok := p.MethodCosts[method]; ok {
			return c
		}
		return defaultComputeUnits
	case PricingCredit:
		if c, ok := p.MethodCosts[method]; ok {
			return c
		}
		if c, ok := p.MethodCosts["default"]; ok {
			return c
		}
		return defaultCredits
	default:
		return 1
	}
}

// PricePerCall prices one call to method in USD. The tier is chosen by
// cumulative volume including the call being priced, so the first call
// past the threshold is already billed at the high-volume rate.
func (p Provider) PricePerCall(counts CountReader, method string) float64 {
	units := p.CostOf(method)

	var total int64
	if p.Pricing == PricingFlat {
		total = counts.RequestCount(p.Name, method) + 1
	} else {
		for m, n := range counts.MethodCounts(p.Name) {
			total += n * p.CostOf(m)
		}
		total += units
	}

	price := p.Tiers.LowVolumePrice
	if p.Tiers.Threshold > 0 && total > p.Tiers.Threshold {
		price = p.Tiers.HighVolumePrice
	}
	return price * float64(units)
}
