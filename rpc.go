package redmine_notifier

import (
	"context"

	"go.uber.org/zap"
)

// NotifyRequest is an exception reported by a worker
type NotifyRequest struct {
	Exception ExceptionDescriptor `json:"exception"`
	Context   map[string]string   `json:"context"`
	// Order in which context keys should be rendered, optional
	ContextKeys []string `json:"context_keys,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// NotifyResponse carries the outcome of a Notify call
type NotifyResponse struct {
	Reported bool          `json:"reported"`
	Result   *NotifyResult `json:"result,omitempty"`
}

// CreateIssueRequest describes a custom issue
type CreateIssueRequest struct {
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	ProjectID   string   `json:"project_id,omitempty"`
	TrackerID   int      `json:"tracker_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateIssueResponse carries the created issue, if any
type CreateIssueResponse struct {
	Created bool         `json:"created"`
	Issue   *RemoteIssue `json:"issue,omitempty"`
}

// RPC provides RPC methods for PHP communication
type RPC struct {
	reporter Reporter
	logger   *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(reporter Reporter, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPC{
		reporter: reporter,
		logger:   logger,
	}
}

// Notify reports an exception. It never returns an error so a reporting
// problem cannot fail the worker's own request.
func (r *RPC) Notify(req *NotifyRequest, resp *NotifyResponse) error {
	r.logger.Debug("Received exception via RPC",
		zap.String("class", req.Exception.ClassName),
		zap.Int("frames", len(req.Exception.StackFrames)))

	result := r.reporter.Notify(context.Background(), req.Exception, req.toContext())

	*resp = NotifyResponse{
		Reported: result != nil,
		Result:   result,
	}

	return nil
}

// CreateIssue creates a custom issue
func (r *RPC) CreateIssue(req *CreateIssueRequest, resp *CreateIssueResponse) error {
	r.logger.Debug("Received custom issue via RPC", zap.String("subject", req.Subject))

	issue := r.reporter.CreateIssue(context.Background(), req.Subject, req.Description, IssueOptions{
		ProjectID: req.ProjectID,
		TrackerID: req.TrackerID,
		Tags:      req.Tags,
	})

	*resp = CreateIssueResponse{
		Created: issue != nil,
		Issue:   issue,
	}

	return nil
}

// ResetCache clears the occurrence cache
func (r *RPC) ResetCache(_ bool, ok *bool) error {
	r.reporter.ResetCache()
	r.logger.Info("Occurrence cache reset via RPC")
	*ok = true
	return nil
}

// toContext converts the wire map to a Context. Keys listed in ContextKeys come
// first in that order, the rest follow sorted by name.
func (req *NotifyRequest) toContext() Context {
	c := Context{Tags: req.Tags}
	for _, k := range req.ContextKeys {
		if v, ok := req.Context[k]; ok {
			c.Set(k, v)
		}
	}
	for _, f := range NewContextFromMap(req.Context).Fields {
		if _, seen := c.Get(f.Key); !seen {
			c.Set(f.Key, f.Value)
		}
	}
	return c
}
