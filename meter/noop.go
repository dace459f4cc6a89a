package meter

import "github.com/chainmux/rpcrouter"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ rpcrouter.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(rpcrouter.RouteEvent) {}

func (m *NoopMeter) OnResult(rpcrouter.ResultEvent) {}

func (m *NoopMeter) OnSkip(rpcrouter.SkipEvent) {}
