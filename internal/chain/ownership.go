package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenrooms/backend/internal/logging"
)

// ErrNoController is returned when no strategy yields a controlling
// address for a contract. Callers fall back to manual owner input.
var ErrNoController = errors.New("no controller found for contract")

// CreationSource looks up the address that deployed a contract. The
// block-explorer client implements this; tests substitute fakes.
type CreationSource interface {
	ContractCreator(ctx context.Context, contract string) (string, error)
}

// ownerStrategy is one step of the controller resolution chain. A strategy
// returns ("", nil) when it has nothing to offer; only transport-level
// failures return an error, and the resolver treats those as "not found"
// too, logging and moving on.
type ownerStrategy struct {
	name string
	fn   func(ctx context.Context, contract common.Address) (string, error)
}

// OwnerResolver determines a contract's controlling address on one
// network. The strategy order is fixed: deployer(), owner(), creator(),
// then the block-explorer creation record.
type OwnerResolver struct {
	client     *Client
	creation   CreationSource
	logger     *logging.Logger
	strategies []ownerStrategy
}

// NewOwnerResolver creates an OwnerResolver for the client's network.
// creation may be nil when no explorer is configured for the network.
func NewOwnerResolver(client *Client, creation CreationSource, logger *logging.Logger) *OwnerResolver {
	r := &OwnerResolver{
		client:   client,
		creation: creation,
		logger:   logger,
	}

	r.strategies = []ownerStrategy{
		{name: "deployer", fn: r.tryAddressCall(client.Deployer)},
		{name: "owner", fn: r.tryAddressCall(client.Owner)},
		{name: "creator", fn: r.tryAddressCall(client.Creator)},
		{name: "explorer", fn: r.tryExplorer},
	}
	return r
}

// tryAddressCall adapts a contract read into a strategy: reverts and
// missing functions resolve to "", transport errors pass through.
func (r *OwnerResolver) tryAddressCall(call func(context.Context, common.Address) (common.Address, error)) func(context.Context, common.Address) (string, error) {
	return func(ctx context.Context, contract common.Address) (string, error) {
		addr, err := call(ctx, contract)
		if err != nil {
			if IsRevert(err) {
				return "", nil
			}
			return "", err
		}
		if addr == (common.Address{}) {
			return "", nil
		}
		return strings.ToLower(addr.Hex()), nil
	}
}

func (r *OwnerResolver) tryExplorer(ctx context.Context, contract common.Address) (string, error) {
	if r.creation == nil {
		return "", nil
	}
	creator, err := r.creation.ContractCreator(ctx, strings.ToLower(contract.Hex()))
	if err != nil {
		return "", err
	}
	return strings.ToLower(creator), nil
}

// ResolveController walks the strategy chain and returns the first
// controlling address found, lowercased. Every per-step failure is
// recoverable; when the chain is exhausted, ErrNoController is returned.
func (r *OwnerResolver) ResolveController(ctx context.Context, contract common.Address) (string, error) {
	for _, strategy := range r.strategies {
		addr, err := strategy.fn(ctx, contract)
		if err != nil {
			// Treated as "not found": the next strategy may still succeed.
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"strategy": strategy.name,
				"network":  r.client.Network().String(),
				"contract": strings.ToLower(contract.Hex()),
			}).Warn("controller strategy failed")
			continue
		}
		if addr != "" {
			r.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"strategy": strategy.name,
				"network":  r.client.Network().String(),
				"owner":    addr,
			}).Debug("controller resolved")
			return addr, nil
		}
	}
	return "", ErrNoController
}

// Network returns the network this resolver probes.
func (r *OwnerResolver) Network() Network {
	return r.client.Network()
}
