// Package modemoracle defines the narrow external-collaborator seam for
// the cellular modem AT interface (out of core scope per spec.md §1,
// "acts as a config/DNS/socket oracle"). A Simulated implementation
// backs tests and local runs since the real AT modem is unavailable to
// this repo.
//
// Grounded on glennswest-ipmiserial's treatment of the bare-metal-host
// API as an external oracle behind discovery.Scanner — here the seam is
// explicit since there is no real device to poll.
package modemoracle

import (
	"context"
	"net"
)

// Identity is the immutable endpoint identity sourced from the modem at
// startup (spec §3 Endpoint Identity).
type Identity struct {
	EndpointName string
	IMEI         string
	IMSI         string
	ICCID        string
}

// Oracle is the seam lifecycle depends on for everything the AT
// interface would otherwise provide.
type Oracle interface {
	Identity() Identity
	ResolveAndDial(ctx context.Context, network, addr string) (net.Conn, error)
	CurrentAPN() string
	SwapAPN() (next string, ok bool)
	SetIPFamily(preferIPv6 bool)
}

// Simulated is a deterministic in-process stand-in: dials real sockets
// (so local/integration runs still work end to end) but reports a fixed
// identity and a small static APN rotation instead of talking to a modem.
type Simulated struct {
	identity   Identity
	apns       []string
	apnIndex   int
	preferIPv6 bool
}

func NewSimulated(identity Identity, apns []string) *Simulated {
	if len(apns) == 0 {
		apns = []string{"default"}
	}
	return &Simulated{identity: identity, apns: apns}
}

func (s *Simulated) Identity() Identity { return s.identity }

func (s *Simulated) ResolveAndDial(ctx context.Context, network, addr string) (net.Conn, error) {
	if s.preferIPv6 {
		network = preferV6(network)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

func preferV6(network string) string {
	switch network {
	case "udp":
		return "udp6"
	default:
		return network
	}
}

func (s *Simulated) CurrentAPN() string { return s.apns[s.apnIndex] }

func (s *Simulated) SwapAPN() (string, bool) {
	if len(s.apns) <= 1 {
		return s.CurrentAPN(), false
	}
	s.apnIndex = (s.apnIndex + 1) % len(s.apns)
	return s.CurrentAPN(), true
}

func (s *Simulated) SetIPFamily(preferIPv6 bool) { s.preferIPv6 = preferIPv6 }
