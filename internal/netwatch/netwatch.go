// Package netwatch reports connectivity to the server and the kind of network
// the host is on.
package netwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/rwclient/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// Kind is the type of the active network.
type Kind string

const (
	KindNone     Kind = "none"
	KindWifi     Kind = "wifi"
	KindEthernet Kind = "ethernet"
	KindCellular Kind = "cellular"
	KindUnknown  Kind = "unknown"
)

// LookupTimeout bounds a single probe.
const LookupTimeout = 5 * time.Second

// ErrNoHost is returned for server URLs without a host.
var ErrNoHost = errors.New("server url has no host")

// Status is the result of one probe.
type Status struct {
	Connected bool `json:"connected"`
	Kind      Kind `json:"kind"`
}

// IsWifi reports whether the host is connected over Wi-Fi.
func (s Status) IsWifi() bool { return s.Connected && s.Kind == KindWifi }

// Resolver resolves host names. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Prober periodically resolves the server host name.
type Prober struct {
	host     string
	resolver Resolver
	kind     func() Kind
	logger   logrus.FieldLogger
	ticker   *scheduler.Ticker

	mu       sync.Mutex
	status   Status
	probed   bool
	onChange func(Status)
}

// New creates a prober for the host of serverURL. Until the first probe it
// assumes it is connected over the network kind the host interfaces show.
func New(serverURL string, logger logrus.FieldLogger) (*Prober, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, ErrNoHost
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Prober{
		host:     u.Hostname(),
		resolver: net.DefaultResolver,
		kind:     DetectKind,
		logger:   logger.WithField("component", "netwatch"),
	}
	p.status = Status{Connected: true, Kind: p.kind()}
	p.ticker = scheduler.New("netwatch", func(ctx context.Context) { p.Check(ctx) }, logger)
	return p, nil
}

// OnChange registers fn to be called after every probe whose result differs
// from the previous one. The first probe always reports.
func (p *Prober) OnChange(fn func(Status)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Start probes now and then every interval.
func (p *Prober) Start(interval time.Duration) {
	p.ticker.Start(interval)
}

// Stop ends probing.
func (p *Prober) Stop() {
	p.ticker.Stop()
	p.ticker.Wait()
}

// Current returns the last probe result.
func (p *Prober) Current() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Check runs one probe and returns its result.
func (p *Prober) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	next := Status{Kind: KindNone}
	addrs, err := p.resolver.LookupHost(ctx, p.host)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return p.Current()
		}
		p.logger.WithError(err).WithField("host", p.host).Debug("probe failed")
	} else if len(addrs) > 0 {
		next = Status{Connected: true, Kind: p.kind()}
	}

	p.mu.Lock()
	changed := !p.probed || next != p.status
	p.probed = true
	p.status = next
	fn := p.onChange
	p.mu.Unlock()

	if changed {
		p.logger.WithFields(logrus.Fields{
			"connected": next.Connected,
			"kind":      next.Kind,
		}).Info("connectivity changed")
		if fn != nil {
			fn(next)
		}
	}
	return next
}

var sysClassNet = "/sys/class/net"

// DetectKind inspects the host interfaces and returns the kind of the first
// active non-loopback one.
func DetectKind() Kind {
	ifaces, err := net.Interfaces()
	if err != nil {
		return KindUnknown
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if k := kindOf(iface.Name); k != KindUnknown {
			return k
		}
	}
	return KindUnknown
}

func kindOf(name string) Kind {
	if _, err := os.Stat(filepath.Join(sysClassNet, name, "wireless")); err == nil {
		return KindWifi
	}
	switch {
	case strings.HasPrefix(name, "wl"):
		return KindWifi
	case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"):
		return KindCellular
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return KindEthernet
	}
	return KindUnknown
}
