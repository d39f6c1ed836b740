package cognite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tippelaget/config"

	"go.uber.org/zap"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Cognite.Project = "fantasy"
	cfg.Cognite.BaseURL = baseURL
	cfg.Cognite.ClientID = "client"
	cfg.Cognite.ClientSecret = "secret"
	cfg.Cognite.TokenURL = baseURL + "/token"
	cfg.Cognite.Timeout = 5 * time.Second
	return cfg
}

// newTestServer serves a token endpoint and delegates everything else to api.
func newTestServer(t *testing.T, api http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		api(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNewClient_Disabled(t *testing.T) {
	client := NewClient(nil, config.Defaults())

	if client.Enabled() {
		t.Fatal("expected disabled client without credentials")
	}
	if _, err := client.ListBets(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := client.RunWorkflow(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestListBets(t *testing.T) {
	var requests []listRequest
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/projects/fantasy/models/instances/list" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req listRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		if req.Cursor == "" {
			_, _ = w.Write([]byte(`{
				"items": [{
					"instanceType": "node",
					"space": "tippelaget_space_name",
					"externalId": "bet-1",
					"properties": {"tippelaget_space_name": {"Bet/fcb537cee9eba5": {
						"gameweek": "GW_1",
						"betNok": 100,
						"odds": 2.5,
						"payout": 250,
						"player": {"space": "tippelaget_space_name", "externalId": "alice"}
					}}}
				}],
				"nextCursor": "page-2"
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"items": [{
				"instanceType": "node",
				"space": "tippelaget_space_name",
				"externalId": "bet-2",
				"properties": {"tippelaget_space_name": {"Bet/fcb537cee9eba5": {
					"gameweek": "GW_1",
					"betNok": 100
				}}}
			}]
		}`))
	})

	client := NewClient(zap.NewNop(), testConfig(server.URL))
	records, err := client.ListBets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 page requests, got %d", len(requests))
	}
	first := requests[0]
	if first.InstanceType != "node" || first.Limit != 1000 {
		t.Errorf("unexpected first request: %+v", first)
	}
	src := first.Sources[0].Source
	if src.Type != "view" || src.Space != "tippelaget_space_name" || src.ExternalID != "Bet" || src.Version != "fcb537cee9eba5" {
		t.Errorf("unexpected view reference: %+v", src)
	}
	if requests[1].Cursor != "page-2" || requests[1].Limit != 999 {
		t.Errorf("expected cursor page-2 with remaining limit, got %+v", requests[1])
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["id"] != "bet-1" || records[1]["id"] != "bet-2" {
		t.Errorf("expected external ids as record ids, got %v / %v", records[0]["id"], records[1]["id"])
	}
	if n, ok := records[0]["betNok"].(json.Number); !ok || n.String() != "100" {
		t.Errorf("expected json.Number stake, got %#v", records[0]["betNok"])
	}
	player, ok := records[0]["player"].(map[string]any)
	if !ok || player["externalId"] != "alice" {
		t.Errorf("expected nested player reference, got %#v", records[0]["player"])
	}
}

func TestListBets_RespectsLimit(t *testing.T) {
	calls := 0
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"items":[{"externalId":"a","properties":{}},{"externalId":"b","properties":{}}],"nextCursor":"more"}`))
	})

	cfg := testConfig(server.URL)
	cfg.Cognite.ListLimit = 2
	client := NewClient(zap.NewNop(), cfg)

	records, err := client.ListBets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || calls != 1 {
		t.Errorf("expected 2 records in 1 call, got %d records in %d calls", len(records), calls)
	}
}

func TestListBets_APIError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"no access"}}`))
	})

	client := NewClient(zap.NewNop(), testConfig(server.URL))
	_, err := client.ListBets(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || !strings.Contains(apiErr.Body, "no access") {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestRunWorkflow(t *testing.T) {
	var runBody map[string]map[string]string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/projects/fantasy/sessions":
			var body struct {
				Items []map[string]string `json:"items"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if len(body.Items) != 1 || body.Items[0]["clientId"] != "client" {
				t.Errorf("unexpected session request: %+v", body)
			}
			_, _ = w.Write([]byte(`{"items":[{"id":7,"nonce":"n-123"}]}`))
		case "/api/v1/projects/fantasy/workflows/wf_tippelaget_workflow/versions/1/run":
			_ = json.NewDecoder(r.Body).Decode(&runBody)
			_, _ = w.Write([]byte(`{"id":"exec-1","workflowExternalId":"wf_tippelaget_workflow","version":"1","status":"running","startTime":1700000000000}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := NewClient(zap.NewNop(), testConfig(server.URL))
	exec, err := client.RunWorkflow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if runBody["authentication"]["nonce"] != "n-123" {
		t.Errorf("expected session nonce in run body, got %v", runBody)
	}
	if exec.ID != "exec-1" || exec.Status != "running" {
		t.Errorf("unexpected execution: %+v", exec)
	}
	if exec.Done() {
		t.Error("expected running execution not to be done")
	}
}

func TestWorkflowStatus(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/projects/fantasy/workflows/executions/exec-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"exec-1","status":"completed","endTime":1700000060000}`))
	})

	client := NewClient(zap.NewNop(), testConfig(server.URL))
	exec, err := client.WorkflowStatus(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exec.Done() || exec.EndTime != 1700000060000 {
		t.Errorf("expected completed execution, got %+v", exec)
	}

	if _, err := client.WorkflowStatus(context.Background(), ""); err == nil {
		t.Error("expected error for empty execution id")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	client := NewClient(zap.NewNop(), testConfig(server.URL))
	for i := 0; i < 5; i++ {
		_, _ = client.WorkflowStatus(context.Background(), "exec-1")
	}

	if calls != 3 {
		t.Errorf("expected breaker to stop calls after 3 failures, got %d", calls)
	}
}
