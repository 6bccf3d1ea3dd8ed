package service

import "github.com/wiretap-mcp/wiretap/internal/domain/proxy"

// StatsObserver adapts a StatsService to the pipeline's Observer
// interface so /v1/stats reflects live traffic without the pipeline
// importing the service package's concrete counters.
type StatsObserver struct {
	Stats *StatsService
}

func (o StatsObserver) OnReceived(msg *proxy.ProxyMessage) {
	o.Stats.RecordDirection(msg.Direction.String())
	o.Stats.RecordTransport(string(msg.Transport))
}

func (o StatsObserver) OnHeld(*proxy.HeldMessage) {
	o.Stats.RecordHeld()
}

func (o StatsObserver) OnForwarded(msg *proxy.ProxyMessage) {
	o.Stats.RecordForwarded()
	if msg.Modified {
		o.Stats.RecordModified()
	}
}

var _ proxy.Observer = StatsObserver{}
