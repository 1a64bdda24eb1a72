package core

import (
	"net"
	"time"
)

// Connectivity reports whether the host currently has network access.
type Connectivity interface {
	Online() bool
}

// AlwaysOnline is a Connectivity that never reports an outage.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

// ProbeConnectivity considers the host online when a TCP connection to Addr
// can be opened within Timeout.
type ProbeConnectivity struct {
	Addr    string
	Timeout time.Duration

	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

func NewProbeConnectivity(addr string, timeout time.Duration) *ProbeConnectivity {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ProbeConnectivity{Addr: addr, Timeout: timeout, dial: net.DialTimeout}
}

func (p *ProbeConnectivity) Online() bool {
	if p.Addr == "" {
		return true
	}
	dial := p.dial
	if dial == nil {
		dial = net.DialTimeout
	}
	conn, err := dial("tcp", p.Addr, p.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
