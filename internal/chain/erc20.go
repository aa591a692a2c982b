package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function selectors for the read-only calls used here. Computed once at
// init from the canonical signatures.
var (
	selBalanceOf = selector("balanceOf(address)")
	selDecimals  = selector("decimals()")
	selSymbol    = selector("symbol()")
	selDeployer  = selector("deployer()")
	selOwner     = selector("owner()")
	selCreator   = selector("creator()")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// IsContractAddress reports whether s looks like a hex contract address.
func IsContractAddress(s string) bool {
	return common.IsHexAddress(s)
}

// BalanceOf reads the ERC-20 balance of holder on token.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	// The selector slice shares Keccak256's backing array; never append
	// to it in place.
	data := make([]byte, 0, 36)
	data = append(data, selBalanceOf...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)

	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf %s: empty return", token.Hex())
	}
	return new(big.Int).SetBytes(out), nil
}

// Decimals reads the ERC-20 decimals of token.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.CallContract(ctx, token, selDecimals)
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("decimals %s: empty return", token.Hex())
	}

	v := new(big.Int).SetBytes(out)
	if !v.IsUint64() || v.Uint64() > 77 {
		return 0, fmt.Errorf("decimals %s: out of range", token.Hex())
	}
	return uint8(v.Uint64()), nil
}

// Symbol reads the ERC-20 symbol of token. Handles both the standard
// dynamic-string encoding and legacy bytes32 symbols.
func (c *Client) Symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := c.CallContract(ctx, token, selSymbol)
	if err != nil {
		return "", fmt.Errorf("symbol %s: %w", token.Hex(), err)
	}
	return decodeStringReturn(out), nil
}

// addressCall invokes a zero-argument function expected to return a single
// address word. Returns the zero address when the return data is empty.
func (c *Client) addressCall(ctx context.Context, contract common.Address, sel []byte) (common.Address, error) {
	out, err := c.CallContract(ctx, contract, sel)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 32 {
		return common.Address{}, nil
	}
	return common.BytesToAddress(out[12:32]), nil
}

// Deployer calls deployer() on the contract.
func (c *Client) Deployer(ctx context.Context, contract common.Address) (common.Address, error) {
	return c.addressCall(ctx, contract, selDeployer)
}

// Owner calls owner() on the contract.
func (c *Client) Owner(ctx context.Context, contract common.Address) (common.Address, error) {
	return c.addressCall(ctx, contract, selOwner)
}

// Creator calls creator() on the contract.
func (c *Client) Creator(ctx context.Context, contract common.Address) (common.Address, error) {
	return c.addressCall(ctx, contract, selCreator)
}

// decodeStringReturn decodes an ABI string return value. Falls back to
// treating the word as fixed bytes for non-conforming tokens.
func decodeStringReturn(out []byte) string {
	if len(out) == 0 {
		return ""
	}

	if len(out) >= 64 {
		offset := new(big.Int).SetBytes(out[:32])
		if offset.IsUint64() && offset.Uint64()+32 <= uint64(len(out)) {
			start := offset.Uint64()
			length := new(big.Int).SetBytes(out[start : start+32])
			if length.IsUint64() && start+32+length.Uint64() <= uint64(len(out)) {
				return string(out[start+32 : start+32+length.Uint64()])
			}
		}
	}

	// bytes32 symbol: trim trailing zero padding
	return strings.TrimRight(string(out[:min(len(out), 32)]), "\x00")
}
