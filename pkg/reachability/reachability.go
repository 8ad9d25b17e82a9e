// Package reachability provides probes of the network state.
// A request to an unreachable target is not sent at all, see dispatch.WithReachability.
package reachability

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

const DefaultDialTimeout = 3 * time.Second

// Checker reports whether the target of a request is reachable.
type Checker interface {
	Reachable(ctx context.Context, target *url.URL) bool
}

// CheckerFunc is an adapter to allow the use of ordinary functions as Checker.
type CheckerFunc func(ctx context.Context, target *url.URL) bool

func (f CheckerFunc) Reachable(ctx context.Context, target *url.URL) bool {
	return f(ctx, target)
}

type always struct{}

// Always reports each target as reachable, it is the default checker.
func Always() Checker {
	return always{}
}

func (always) Reachable(context.Context, *url.URL) bool {
	return true
}

type never struct{}

// Never reports each target as unreachable.
func Never() Checker {
	return never{}
}

func (never) Reachable(context.Context, *url.URL) bool {
	return false
}

// Dialer checks reachability by opening a TCP connection to the target host.
// A relative URL, without a host, is always reported as reachable.
type Dialer struct {
	Timeout time.Duration
	// Dial is used instead of the net.Dialer, if set.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer creates the Dialer with the DefaultDialTimeout.
func NewDialer() *Dialer {
	return &Dialer{Timeout: DefaultDialTimeout}
}

func (d *Dialer) Reachable(ctx context.Context, target *url.URL) bool {
	if target == nil || target.Host == "" {
		return true
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := d.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	conn, err := dial(ctx, "tcp", Address(target))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Address returns "host:port" of the URL, the port is derived from the scheme if it is not set.
func Address(target *url.URL) string {
	port := target.Port()
	if port == "" {
		switch target.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(target.Hostname(), port)
}

// Parse converts the config value to a Checker: "always", "never" or "dial".
func Parse(mode string, dialTimeout time.Duration) (Checker, error) {
	switch mode {
	case "", "always":
		return Always(), nil
	case "never":
		return Never(), nil
	case "dial":
		return &Dialer{Timeout: dialTimeout}, nil
	default:
		return nil, fmt.Errorf(`reachability mode "%s" is not supported, expected one of "always", "never", "dial"`, mode)
	}
}
