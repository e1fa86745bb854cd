package p2p

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshwire/meshwire/metrics"
)

// Blacklist is a connection gater refusing dials to and connections from
// deny-listed peers. It drives the node-wide blacklisted peers gauge.
type Blacklist struct {
	mu    sync.Mutex
	peers map[peer.ID]struct{}
	gauge *metrics.Gauge
}

var _ connmgr.ConnectionGater = (*Blacklist)(nil)

// NewBlacklist creates an empty Blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{peers: map[peer.ID]struct{}{}}
}

// bind attaches the blacklisted peers gauge. Called during Upgrade, after
// the gauge is registered and before any Add.
func (b *Blacklist) bind(gauge *metrics.Gauge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gauge = gauge
}

// Add puts the peer on the deny list.
func (b *Blacklist) Add(pid peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exist := b.peers[pid]; exist {
		return
	}
	b.peers[pid] = struct{}{}
	if b.gauge != nil {
		b.gauge.Inc()
	}
}

// Remove takes the peer off the deny list.
func (b *Blacklist) Remove(pid peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exist := b.peers[pid]; !exist {
		return
	}
	delete(b.peers, pid)
	if b.gauge != nil {
		b.gauge.Dec()
	}
}

// Blacklisted reports whether the peer is on the deny list.
func (b *Blacklist) Blacklisted(pid peer.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, exist := b.peers[pid]
	return exist
}

// InterceptPeerDial implements connmgr.ConnectionGater.
func (b *Blacklist) InterceptPeerDial(pid peer.ID) bool {
	return !b.Blacklisted(pid)
}

// InterceptAddrDial implements connmgr.ConnectionGater.
func (b *Blacklist) InterceptAddrDial(pid peer.ID, _ ma.Multiaddr) bool {
	return !b.Blacklisted(pid)
}

// InterceptAccept implements connmgr.ConnectionGater. The remote identity is
// unknown before the security handshake, so inbound connections are gated in
// InterceptSecured.
func (b *Blacklist) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured implements connmgr.ConnectionGater.
func (b *Blacklist) InterceptSecured(_ network.Direction, pid peer.ID, _ network.ConnMultiaddrs) bool {
	return !b.Blacklisted(pid)
}

// InterceptUpgraded implements connmgr.ConnectionGater.
func (b *Blacklist) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
