package netpoll

import (
	"net"

	"github.com/libp2p/go-reuseport"
)

// ReusePortListen listens with SO_REUSEPORT and SO_REUSEADDR set, so several
// server processes can share one TCP control address.
func ReusePortListen(proto, addr string) (net.Listener, error) {
	return reuseport.Listen(proto, addr)
}
