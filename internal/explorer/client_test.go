package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestContractCreatorFound(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"module":            r.URL.Query().Get("module"),
			"action":            r.URL.Query().Get("action"),
			"contractaddresses": r.URL.Query().Get("contractaddresses"),
			"apikey":            r.URL.Query().Get("apikey"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"1","message":"OK","result":[{"contractAddress":"0xAAAA","contractCreator":"0xBBBBbbBB00000000000000000000000000000000","txHash":"0x1"}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	creator, err := client.ContractCreator(context.Background(), "0xaaaa")
	if err != nil {
		t.Fatalf("ContractCreator error: %v", err)
	}
	if creator != "0xbbbbbbbb00000000000000000000000000000000" {
		t.Fatalf("creator = %q, want lowercased creator address", creator)
	}

	if gotQuery["module"] != "contract" || gotQuery["action"] != "getcontractcreation" {
		t.Fatalf("unexpected query: %v", gotQuery)
	}
	if gotQuery["contractaddresses"] != "0xaaaa" {
		t.Fatalf("contractaddresses = %q", gotQuery["contractaddresses"])
	}
	if gotQuery["apikey"] != "test-key" {
		t.Fatalf("apikey = %q", gotQuery["apikey"])
	}
}

func TestContractCreatorNoRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"0","message":"No data found","result":[]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIURL: srv.URL})
	creator, err := client.ContractCreator(context.Background(), "0xaaaa")
	if err != nil {
		t.Fatalf("ContractCreator error: %v", err)
	}
	if creator != "" {
		t.Fatalf("creator = %q, want empty for missing record", creator)
	}
}

func TestContractCreatorHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIURL: srv.URL})
	if _, err := client.ContractCreator(context.Background(), "0xaaaa"); err == nil {
		t.Fatal("expected non-200 to return an error")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected missing API URL to be rejected")
	}
}
