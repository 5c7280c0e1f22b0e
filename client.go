package redmine_notifier

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	apiKeyHeader = "X-Redmine-API-Key"
	userAgent    = "rr-redmine-notifier/1.0.0"
)

// IssueTracker is the remote tracker contract the notifier depends on.
// Search returns nil, nil when no open issue matches the fingerprint.
type IssueTracker interface {
	Search(ctx context.Context, projectID, fingerprint string) (*RemoteIssue, error)
	Create(ctx context.Context, issue IssuePayload) (*RemoteIssue, error)
	Update(ctx context.Context, issueID int, issue IssuePayload) error
}

// TransportError covers every way a tracker call can fail: network errors,
// timeouts, non-2xx answers and malformed bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RedmineClient talks to the Redmine REST API
type RedmineClient struct {
	config   *TransportConfig
	endpoint *Endpoint
	client   *resty.Client
	logger   *zap.Logger
}

// NewRedmineClient creates a new Redmine REST client
func NewRedmineClient(config *TransportConfig, redmineURL, apiKey string, logger *zap.Logger) (*RedmineClient, error) {
	endpoint, err := ParseEndpoint(redmineURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redmine URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	connectTimeout := config.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	readTimeout := config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SSLVerify != nil && !*config.SSLVerify, //nolint:gosec // user-configured
		},
	}

	// Configure proxy if specified
	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(connectTimeout+readTimeout).
		SetRetryCount(0).
		SetHeader(apiKeyHeader, apiKey).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &RedmineClient{
		config:   config,
		endpoint: endpoint,
		client:   client,
		logger:   logger,
	}, nil
}

// Endpoint returns the parsed Redmine URL
func (c *RedmineClient) Endpoint() *Endpoint {
	return c.endpoint
}

// Search looks up an open issue whose subject contains [fingerprint]
func (c *RedmineClient) Search(ctx context.Context, projectID, fingerprint string) (*RemoteIssue, error) {
	const op = "redmine_search"
	marker := "[" + fingerprint + "]"

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"project_id": projectID,
			"subject":    "~" + marker,
			"status_id":  "open",
		}).
		Get(c.endpoint.IssuesURL)
	if err := checkResponse(op, resp, err); err != nil {
		return nil, err
	}

	var result issueSearchResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("failed to decode issues: %w", err)}
	}

	// Redmine's "~" is a substring match on words, double check the marker
	issue, found := lo.Find(result.Issues, func(i RemoteIssue) bool {
		return strings.Contains(i.Subject, marker)
	})
	if !found {
		return nil, nil
	}

	c.logger.Debug("Found existing issue",
		zap.String("fingerprint", fingerprint),
		zap.Int("issue_id", issue.ID))

	return &issue, nil
}

// Create posts a new issue and returns it as stored by Redmine
func (c *RedmineClient) Create(ctx context.Context, issue IssuePayload) (*RemoteIssue, error) {
	const op = "redmine_create"

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(issueEnvelope{Issue: issue}).
		Post(c.endpoint.IssuesURL)
	if err := checkResponse(op, resp, err); err != nil {
		return nil, err
	}

	var result issueResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("failed to decode issue: %w", err)}
	}
	if result.Issue.ID == 0 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("response has no issue id")}
	}

	return &result.Issue, nil
}

// Update changes the subject of an issue and appends a journal note
func (c *RedmineClient) Update(ctx context.Context, issueID int, issue IssuePayload) error {
	const op = "redmine_update"

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(issueEnvelope{Issue: issue}).
		Put(c.endpoint.IssueURL(issueID))

	return checkResponse(op+"_"+strconv.Itoa(issueID), resp, err)
}

// Close closes idle connections
func (c *RedmineClient) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 200 {
			body = body[:200]
		}
		return &TransportError{Op: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", body)}
	}
	return nil
}
