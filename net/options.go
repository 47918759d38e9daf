package net

// A UDPOption sets options of a UDPConn.
type UDPOption interface {
	ApplyUDP(*UDPConnConfig)
}

type MulticastHopLimitOpt struct {
	hopLimit int
}

func (o MulticastHopLimitOpt) ApplyUDP(cfg *UDPConnConfig) {
	cfg.MulticastHopLimit = o.hopLimit
}

// WithMulticastHopLimit sets the hop limit of outgoing multicast packets.
func WithMulticastHopLimit(hopLimit int) MulticastHopLimitOpt {
	return MulticastHopLimitOpt{hopLimit: hopLimit}
}

type MulticastLoopbackOpt struct {
	on bool
}

func (o MulticastLoopbackOpt) ApplyUDP(cfg *UDPConnConfig) {
	cfg.MulticastLoopback = o.on
}

// WithMulticastLoopback sets whether outgoing multicast packets are looped back to the host.
func WithMulticastLoopback(on bool) MulticastLoopbackOpt {
	return MulticastLoopbackOpt{on: on}
}
