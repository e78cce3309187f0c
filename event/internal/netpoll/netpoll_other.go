//go:build !linux && !darwin && !freebsd

package netpoll

// Poller is unavailable on this platform.
type Poller struct{}

// OpenPoller always fails on this platform.
func OpenPoller() (*Poller, error) { return nil, ErrUnsupportedPlatform }

func (p *Poller) Close() error                             { return ErrUnsupportedPlatform }
func (p *Poller) Control(fd int, old, mask Interest) error { return ErrUnsupportedPlatform }
func (p *Poller) Wake() error                              { return ErrUnsupportedPlatform }

func (p *Poller) Poll(msec int, callback func(fd int, ready Interest)) (int, error) {
	return 0, ErrUnsupportedPlatform
}
