package cognite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tippelaget/config"
	"tippelaget/internal/bets"
	"tippelaget/internal/breakers"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxPageSize is the largest page the instances endpoint accepts.
const maxPageSize = 1000

// ErrNotConfigured is returned when credentials or project are missing.
var ErrNotConfigured = errors.New("cognite client not configured")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Status, e.Body)
}

// Execution is one workflow run.
type Execution struct {
	ID                 string `json:"id"`
	WorkflowExternalID string `json:"workflowExternalId"`
	Version            string `json:"version"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	StartTime          int64  `json:"startTime,omitempty"`
	EndTime            int64  `json:"endTime,omitempty"`
}

// Done reports whether the execution reached a terminal state.
func (e Execution) Done() bool {
	switch strings.ToLower(e.Status) {
	case "completed", "failed", "timed_out", "terminated":
		return true
	}
	return false
}

// Client reads bets from the data model and triggers the ingestion workflow.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	breaker    *breakers.Breaker

	baseURL      string
	project      string
	clientID     string
	clientSecret string

	space       string
	view        string
	viewVersion string
	listLimit   int

	workflowID      string
	workflowVersion string
}

// NewClient builds an OAuth client-credentials client. When the backend is
// not configured the client is returned disabled and every call fails with
// ErrNotConfigured.
func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := cfg.Cognite
	if !cc.Enabled() {
		logger.Warn("cognite credentials not set, bet backend disabled")
		return newClient(logger, cfg, nil)
	}

	oauthCfg := clientcredentials.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		TokenURL:     cc.TokenURL,
		Scopes:       cc.Scopes,
	}
	// The token fetch uses the same timeout as API calls.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cc.Timeout})
	httpClient := oauthCfg.Client(tokenCtx)
	httpClient.Timeout = cc.Timeout

	logger.Info("cognite client initialized",
		zap.String("project", cc.Project),
		zap.String("base_url", cc.BaseURL),
		zap.String("view", cc.View+"/"+cc.ViewVersion),
	)
	return newClient(logger, cfg, httpClient)
}

func newClient(logger *zap.Logger, cfg *config.Config, httpClient *http.Client) *Client {
	cc := cfg.Cognite
	return &Client{
		logger:          logger,
		httpClient:      httpClient,
		breaker:         breakers.New(logger, "cognite"),
		baseURL:         strings.TrimRight(cc.BaseURL, "/"),
		project:         cc.Project,
		clientID:        cc.ClientID,
		clientSecret:    cc.ClientSecret,
		space:           cc.Space,
		view:            cc.View,
		viewVersion:     cc.ViewVersion,
		listLimit:       cc.ListLimit,
		workflowID:      cc.WorkflowID,
		workflowVersion: cc.WorkflowVersion,
	}
}

// Enabled reports whether the client can make calls.
func (c *Client) Enabled() bool {
	return c.httpClient != nil
}

type viewReference struct {
	Type       string `json:"type"`
	Space      string `json:"space"`
	ExternalID string `json:"externalId"`
	Version    string `json:"version"`
}

type sourceSelector struct {
	Source viewReference `json:"source"`
}

type listRequest struct {
	InstanceType string           `json:"instanceType"`
	Sources      []sourceSelector `json:"sources"`
	Limit        int              `json:"limit"`
	Cursor       string           `json:"cursor,omitempty"`
}

type instance struct {
	InstanceType string                               `json:"instanceType"`
	Space        string                               `json:"space"`
	ExternalID   string                               `json:"externalId"`
	Properties   map[string]map[string]map[string]any `json:"properties"`
}

type listResponse struct {
	Items      []instance `json:"items"`
	NextCursor string     `json:"nextCursor"`
}

// ListBets returns up to the configured limit of bet instances as raw
// records, following pagination cursors. Each record carries the instance
// external id under "id".
func (c *Client) ListBets(ctx context.Context) ([]bets.Record, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	propKey := c.view + "/" + c.viewVersion
	path := fmt.Sprintf("/api/v1/projects/%s/models/instances/list", url.PathEscape(c.project))

	records := make([]bets.Record, 0)
	cursor := ""
	for len(records) < c.listLimit {
		req := listRequest{
			InstanceType: "node",
			Sources: []sourceSelector{{Source: viewReference{
				Type:       "view",
				Space:      c.space,
				ExternalID: c.view,
				Version:    c.viewVersion,
			}}},
			Limit:  min(maxPageSize, c.listLimit-len(records)),
			Cursor: cursor,
		}

		var resp listResponse
		if err := c.call(ctx, http.MethodPost, path, req, &resp); err != nil {
			return nil, fmt.Errorf("list bet instances: %w", err)
		}

		for _, item := range resp.Items {
			props := item.Properties[c.space][propKey]
			rec := make(bets.Record, len(props)+1)
			for k, v := range props {
				rec[k] = v
			}
			rec[bets.ColID] = item.ExternalID
			records = append(records, rec)
		}

		if resp.NextCursor == "" || len(resp.Items) == 0 {
			break
		}
		cursor = resp.NextCursor
	}

	c.logger.Debug("listed bet instances", zap.Int("count", len(records)))
	return records, nil
}

// RunWorkflow starts the ingestion workflow. A session nonce is created
// first so the workflow runs with the client's credentials.
func (c *Client) RunWorkflow(ctx context.Context) (Execution, error) {
	if !c.Enabled() {
		return Execution{}, ErrNotConfigured
	}

	nonce, err := c.createSession(ctx)
	if err != nil {
		return Execution{}, fmt.Errorf("create session: %w", err)
	}

	path := fmt.Sprintf("/api/v1/projects/%s/workflows/%s/versions/%s/run",
		url.PathEscape(c.project), url.PathEscape(c.workflowID), url.PathEscape(c.workflowVersion))
	body := map[string]any{"authentication": map[string]string{"nonce": nonce}}

	var exec Execution
	if err := c.call(ctx, http.MethodPost, path, body, &exec); err != nil {
		return Execution{}, fmt.Errorf("run workflow %s/%s: %w", c.workflowID, c.workflowVersion, err)
	}

	c.logger.Info("workflow started",
		zap.String("workflow", c.workflowID),
		zap.String("execution_id", exec.ID),
		zap.String("status", exec.Status),
	)
	return exec, nil
}

// WorkflowStatus fetches the current state of an execution.
func (c *Client) WorkflowStatus(ctx context.Context, executionID string) (Execution, error) {
	if !c.Enabled() {
		return Execution{}, ErrNotConfigured
	}
	if executionID == "" {
		return Execution{}, errors.New("execution id is required")
	}

	path := fmt.Sprintf("/api/v1/projects/%s/workflows/executions/%s",
		url.PathEscape(c.project), url.PathEscape(executionID))

	var exec Execution
	if err := c.call(ctx, http.MethodGet, path, nil, &exec); err != nil {
		return Execution{}, fmt.Errorf("workflow execution %s: %w", executionID, err)
	}
	return exec, nil
}

func (c *Client) createSession(ctx context.Context) (string, error) {
	path := fmt.Sprintf("/api/v1/projects/%s/sessions", url.PathEscape(c.project))
	body := map[string]any{
		"items": []map[string]string{{
			"clientId":     c.clientID,
			"clientSecret": c.clientSecret,
		}},
	}

	var resp struct {
		Items []struct {
			ID    int64  `json:"id"`
			Nonce string `json:"nonce"`
		} `json:"items"`
	}
	if err := c.call(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].Nonce == "" {
		return "", errors.New("session response carried no nonce")
	}
	return resp.Items[0].Nonce, nil
}

// call runs one request through the circuit breaker.
func (c *Client) call(ctx context.Context, method, path string, body, dest any) error {
	return c.breaker.Do(func() error {
		return c.doJSON(ctx, method, path, body, dest)
	})
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
