package meter

import "github.com/chainmux/rpcrouter"

// MultiMeter fans events out to several meters.
type MultiMeter struct {
	meters []rpcrouter.Meter
}

var _ rpcrouter.Meter = (*MultiMeter)(nil)

// NewMultiMeter creates a MultiMeter over the given meters.
func NewMultiMeter(meters ...rpcrouter.Meter) *MultiMeter {
	return &MultiMeter{meters: meters}
}

func (m *MultiMeter) OnRoute(e rpcrouter.RouteEvent) {
	for _, meter := range m.meters {
		meter.OnRoute(e)
	}
}

func (m *MultiMeter) OnResult(e rpcrouter.ResultEvent) {
	for _, meter := range m.meters {
		meter.OnResult(e)
	}
}

func (m *MultiMeter) OnSkip(e rpcrouter.SkipEvent) {
	for _, meter := range m.meters {
		meter.OnSkip(e)
	}
}
