package gate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tokenrooms/backend/internal/chain"
	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/metrics"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func rpcResult(result string) string {
	b, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": result})
	return string(b)
}

func selectorHex(signature string) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
}

// erc20Fake serves balanceOf and decimals for one token.
func erc20Fake(t *testing.T, balanceWord string, decimals uint64, fail bool) roundTripperFunc {
	t.Helper()
	return func(r *http.Request) (*http.Response, error) {
		if fail {
			return nil, fmt.Errorf("rpc unreachable")
		}
		body, _ := io.ReadAll(r.Body)
		var req chain.RPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		data := req.Params[0].(map[string]interface{})["data"].(string)

		var result string
		switch {
		case strings.HasPrefix(data, selectorHex("balanceOf(address)")):
			result = balanceWord
		case strings.HasPrefix(data, selectorHex("decimals()")):
			result = fmt.Sprintf("0x%064x", decimals)
		default:
			return nil, fmt.Errorf("unexpected call data %s", data)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(rpcResult(result))),
			Request:    r,
		}, nil
	}
}

func testChecker(t *testing.T, rt roundTripperFunc) *Checker {
	t.Helper()
	base, err := chain.NewClient(chain.Config{
		Network:    chain.NetworkBase,
		RPCURL:     "https://rpc.example",
		HTTPClient: &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	registry := chain.NewRegistry(base, nil)
	return NewChecker(registry, logging.New("test", "error"), metrics.New("test"))
}

func strptr(s string) *string { return &s }

func gatedRoom(required float64) *database.Room {
	return &database.Room{
		Name:           "0xaaaa000000000000000000000000000000000000",
		OwnerAddress:   "0xbbbb000000000000000000000000000000000000",
		TokenAddress:   strptr("0xaaaa000000000000000000000000000000000000"),
		TokenNetwork:   strptr("base"),
		RequiredTokens: required,
	}
}

const wallet = "0xcccc000000000000000000000000000000000000"

func TestCheckAccessUngatedRoom(t *testing.T) {
	checker := testChecker(t, erc20Fake(t, "", 0, true))

	d, err := checker.CheckAccess(context.Background(), &database.Room{Name: "lobby"}, wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if !d.Granted || d.Gated {
		t.Fatalf("decision = %+v, want open ungated", d)
	}
}

func TestCheckAccessZeroRequirement(t *testing.T) {
	checker := testChecker(t, erc20Fake(t, "", 0, true))

	d, err := checker.CheckAccess(context.Background(), gatedRoom(0), wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if !d.Granted {
		t.Fatal("zero requirement should grant access without a chain call")
	}
}

func TestCheckAccessNoWallet(t *testing.T) {
	checker := testChecker(t, erc20Fake(t, "", 0, true))

	d, err := checker.CheckAccess(context.Background(), gatedRoom(5), "")
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if !d.Granted || !d.Gated {
		t.Fatalf("decision = %+v, want granted+gated for anonymous caller", d)
	}
}

func TestCheckAccessSufficientBalance(t *testing.T) {
	// 2 tokens at 18 decimals
	balance := fmt.Sprintf("0x%064x", uint64(2_000_000_000_000_000_000))
	checker := testChecker(t, erc20Fake(t, balance, 18, false))

	d, err := checker.CheckAccess(context.Background(), gatedRoom(1.5), wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if !d.Granted {
		t.Fatalf("decision = %+v, want granted", d)
	}
	if d.Balance != 2 {
		t.Fatalf("balance = %v, want 2", d.Balance)
	}
}

func TestCheckAccessInsufficientBalance(t *testing.T) {
	balance := fmt.Sprintf("0x%064x", uint64(1_000_000)) // 1 token at 6 decimals
	checker := testChecker(t, erc20Fake(t, balance, 6, false))

	d, err := checker.CheckAccess(context.Background(), gatedRoom(2), wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if d.Granted {
		t.Fatalf("decision = %+v, want denied", d)
	}
	if d.Reason == "" {
		t.Fatal("expected a denial reason")
	}
}

func TestCheckAccessExactBalance(t *testing.T) {
	balance := fmt.Sprintf("0x%064x", uint64(2_000_000))
	checker := testChecker(t, erc20Fake(t, balance, 6, false))

	d, err := checker.CheckAccess(context.Background(), gatedRoom(2), wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if !d.Granted {
		t.Fatal("exact required balance should grant access")
	}
}

func TestCheckAccessFailsClosed(t *testing.T) {
	checker := testChecker(t, erc20Fake(t, "", 0, true))

	d, err := checker.CheckAccess(context.Background(), gatedRoom(1), wallet)
	if err == nil {
		t.Fatal("expected error from unreachable chain")
	}
	if d.Granted {
		t.Fatal("chain failure must deny access to a gated room")
	}
}

func TestCheckAccessUnknownNetworkFailsClosed(t *testing.T) {
	checker := testChecker(t, erc20Fake(t, "", 0, true))
	room := gatedRoom(1)
	room.TokenNetwork = strptr("ethereum")

	d, err := checker.CheckAccess(context.Background(), room, wallet)
	if err == nil {
		t.Fatal("expected error for unsupported network")
	}
	if d.Granted {
		t.Fatal("unsupported network must deny access")
	}
}

func TestCheckAccessCachesDecision(t *testing.T) {
	calls := 0
	balance := fmt.Sprintf("0x%064x", uint64(2_000_000))
	inner := erc20Fake(t, balance, 6, false)
	checker := testChecker(t, func(r *http.Request) (*http.Response, error) {
		calls++
		return inner(r)
	})

	room := gatedRoom(1)
	if _, err := checker.CheckAccess(context.Background(), room, wallet); err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	first := calls
	if _, err := checker.CheckAccess(context.Background(), room, wallet); err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if calls != first {
		t.Fatalf("expected cached decision, got %d extra calls", calls-first)
	}
}

func TestCheckAccessDenialNotCached(t *testing.T) {
	balance := fmt.Sprintf("0x%064x", uint64(1_000_000)) // 1 token at 6 decimals
	checker := testChecker(t, erc20Fake(t, balance, 6, false))

	room := gatedRoom(5)
	d, err := checker.CheckAccess(context.Background(), room, wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if d.Granted {
		t.Fatalf("decision = %+v, want denied", d)
	}

	// The wallet acquires tokens. The next check must re-read the
	// chain instead of serving the stale denial.
	checker.registry = testChecker(t, erc20Fake(t, fmt.Sprintf("0x%064x", uint64(10_000_000)), 6, false)).registry

	d, err = checker.CheckAccess(context.Background(), room, wallet)
	if err != nil {
		t.Fatalf("CheckAccess error: %v", err)
	}
	if !d.Granted {
		t.Fatalf("decision = %+v, want immediate grant after funding", d)
	}
}
