package redmine_notifier

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint represents a parsed Redmine base URL
type Endpoint struct {
	String string
	Scheme string
	Host   string
	Port   int
	Path   string

	// Computed URLs
	IssuesURL string
}

// ParseEndpoint parses and validates the configured Redmine URL
func ParseEndpoint(raw string) (*Endpoint, error) {
	if raw == "" {
		return nil, fmt.Errorf("redmine URL is empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("the \"%s\" redmine URL is invalid: %w", raw, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("the scheme of the \"%s\" redmine URL must be either \"http\" or \"https\"", raw)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("the \"%s\" redmine URL must contain a host", raw)
	}

	port := 80
	if parsedURL.Scheme == "https" {
		port = 443
	}
	if parsedURL.Port() != "" {
		if portNum, err := strconv.Atoi(parsedURL.Port()); err == nil {
			port = portNum
		}
	}

	// Redmine may live under a sub-path (https://example.com/redmine)
	path := strings.TrimSuffix(parsedURL.Path, "/")

	e := &Endpoint{
		String: raw,
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Hostname(),
		Port:   port,
		Path:   path,
	}
	e.IssuesURL = e.BaseURL() + "/issues.json"

	return e, nil
}

// BaseURL returns the normalized base URL without a trailing slash
func (e *Endpoint) BaseURL() string {
	u := fmt.Sprintf("%s://%s", e.Scheme, e.Host)

	// Add port if non-standard
	if (e.Scheme == "http" && e.Port != 80) || (e.Scheme == "https" && e.Port != 443) {
		u += fmt.Sprintf(":%d", e.Port)
	}

	return u + e.Path
}

// IssueURL returns the JSON endpoint of a single issue
func (e *Endpoint) IssueURL(id int) string {
	return fmt.Sprintf("%s/issues/%d.json", e.BaseURL(), id)
}

// IssueWebURL returns the human facing page of an issue
func (e *Endpoint) IssueWebURL(id int) string {
	return fmt.Sprintf("%s/issues/%d", e.BaseURL(), id)
}
