// Package chain provides EVM blockchain interaction for token-gated rooms.
package chain

import (
	"fmt"
)

// Network identifies a supported chain. It is a closed set; every dispatch
// over Network is an exhaustive switch so an unknown key can never fall
// through to a wrong default.
type Network string

const (
	NetworkBase    Network = "base"
	NetworkPolygon Network = "polygon"
)

// ResolutionOrder is the fixed order networks are probed when resolving a
// contract's controller. Base first: the token gate reads balances against
// Base and the explorer client defaults to basescan.
var ResolutionOrder = []Network{NetworkBase, NetworkPolygon}

// ParseNetwork validates a network key from user input or a room row.
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case NetworkBase:
		return NetworkBase, nil
	case NetworkPolygon:
		return NetworkPolygon, nil
	default:
		return "", fmt.Errorf("unsupported network: %q", s)
	}
}

// ChainID returns the EVM chain ID for the network.
func (n Network) ChainID() uint64 {
	switch n {
	case NetworkBase:
		return 8453
	case NetworkPolygon:
		return 137
	default:
		return 0
	}
}

// String returns the network key.
func (n Network) String() string {
	return string(n)
}

// Registry holds one RPC client per supported network.
type Registry struct {
	base    *Client
	polygon *Client
}

// NewRegistry creates a Registry from per-network clients.
func NewRegistry(base, polygon *Client) *Registry {
	return &Registry{base: base, polygon: polygon}
}

// Client returns the RPC client for the network.
func (r *Registry) Client(n Network) (*Client, error) {
	switch n {
	case NetworkBase:
		return r.base, nil
	case NetworkPolygon:
		return r.polygon, nil
	default:
		return nil, fmt.Errorf("unsupported network: %q", n)
	}
}
