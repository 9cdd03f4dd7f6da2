package connectivity

import (
	"net"
	"sync/atomic"
	"time"
)

// Oracle answers whether the network is reachable right now. It is polled at
// decision points, never subscribed to.
type Oracle interface {
	IsAvailable() bool
}

// Probe reports connectivity by opening a TCP connection to a known host.
type Probe struct {
	addr    string
	timeout time.Duration
	dial    func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewProbe(addr string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{addr: addr, timeout: timeout, dial: net.DialTimeout}
}

func (p *Probe) IsAvailable() bool {
	conn, err := p.dial("tcp", p.addr, p.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Switch is a manually controlled oracle, e.g. an airplane-mode toggle.
type Switch struct {
	online atomic.Bool
}

func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

func (s *Switch) IsAvailable() bool { return s.online.Load() }

func (s *Switch) Set(online bool) { s.online.Store(online) }

// All is available only when every oracle is.
type All []Oracle

func (a All) IsAvailable() bool {
	for _, o := range a {
		if !o.IsAvailable() {
			return false
		}
	}
	return true
}
