package metrics

import (
	"sync"

	libp2pmetrics "github.com/libp2p/go-libp2p/core/metrics"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/meshwire/meshwire/metrics"
)

const (
	incoming = "incoming"
	outgoing = "outgoing"
)

var trafficBytes = metrics.NewCounterVec(
	"traffic_bytes",
	subsystem,
	"Bytes transferred per protocol and direction",
	[]string{"protocol", "direction"},
)

// BandwidthStat contains the information about the bandwidth used per protocol.
type BandwidthStat struct {
	TotalIn             int64
	TotalOut            int64
	MessagesPerProtocol map[protocol.ID]map[string]int64
}

// BandwidthCollector wraps the libp2p bandwidth reporter and additionally
// keeps per-protocol message counts and exports traffic counters.
type BandwidthCollector struct {
	libp2pmetrics.Reporter

	messagesPerProtocol struct {
		sync.RWMutex
		m map[protocol.ID]map[string]int64
	}
}

// NewBandwidthCollector creates a new BandwidthCollector.
func NewBandwidthCollector() *BandwidthCollector {
	collector := &BandwidthCollector{Reporter: libp2pmetrics.NewBandwidthCounter()}
	collector.messagesPerProtocol.m = make(map[protocol.ID]map[string]int64)
	return collector
}

// GetStat returns the current bandwidth stats.
func (b *BandwidthCollector) GetStat() *BandwidthStat {
	totals := b.GetBandwidthTotals()
	b.messagesPerProtocol.RLock()
	defer b.messagesPerProtocol.RUnlock()
	messages := make(map[protocol.ID]map[string]int64, len(b.messagesPerProtocol.m))
	for proto, byDirection := range b.messagesPerProtocol.m {
		messages[proto] = map[string]int64{
			incoming: byDirection[incoming],
			outgoing: byDirection[outgoing],
		}
	}
	return &BandwidthStat{
		TotalIn:             totals.TotalIn,
		TotalOut:            totals.TotalOut,
		MessagesPerProtocol: messages,
	}
}

// LogSentMessageStream accounts a message sent to the peer.
func (b *BandwidthCollector) LogSentMessageStream(size int64, proto protocol.ID, p peer.ID) {
	b.logMessage(size, proto, outgoing)
	b.Reporter.LogSentMessageStream(size, proto, p)
}

// LogRecvMessageStream accounts a message received from the peer.
func (b *BandwidthCollector) LogRecvMessageStream(size int64, proto protocol.ID, p peer.ID) {
	b.logMessage(size, proto, incoming)
	b.Reporter.LogRecvMessageStream(size, proto, p)
}

func (b *BandwidthCollector) logMessage(size int64, proto protocol.ID, direction string) {
	b.messagesPerProtocol.Lock()
	if _, ok := b.messagesPerProtocol.m[proto]; !ok {
		b.messagesPerProtocol.m[proto] = make(map[string]int64)
	}
	b.messagesPerProtocol.m[proto][direction]++
	b.messagesPerProtocol.Unlock()
	trafficBytes.WithLabelValues(string(proto), direction).Add(float64(size))
}
