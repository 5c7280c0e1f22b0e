package redmine_notifier

import (
	"sort"

	"github.com/samber/lo"
)

// ExceptionDescriptor describes a single application error to report.
// StackFrames may be nil (no backtrace captured) or empty; both are valid.
type ExceptionDescriptor struct {
	ClassName   string   `json:"class_name"`
	Message     string   `json:"message"`
	StackFrames []string `json:"stack_frames,omitempty"`
}

// HasBacktrace reports whether at least one frame was captured.
func (e ExceptionDescriptor) HasBacktrace() bool {
	return len(e.StackFrames) > 0
}

// Field is a single context entry.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Context carries request information attached to a report. Fields keep
// insertion order so descriptions render predictably.
type Context struct {
	Fields []Field  `json:"fields,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// NewContext builds a Context from key/value pairs. A trailing key without
// a value is ignored.
func NewContext(kv ...string) Context {
	var c Context
	for i := 0; i+1 < len(kv); i += 2 {
		c.Set(kv[i], kv[i+1])
	}
	return c
}

// NewContextFromMap builds a Context from an unordered map, keys sorted by name.
func NewContextFromMap(m map[string]string) Context {
	keys := lo.Keys(m)
	sort.Strings(keys)

	c := Context{Fields: make([]Field, 0, len(keys))}
	for _, k := range keys {
		c.Fields = append(c.Fields, Field{Key: k, Value: m[k]})
	}
	return c
}

// Set adds or overwrites a field, keeping the original position on overwrite.
func (c *Context) Set(key, value string) {
	for i := range c.Fields {
		if c.Fields[i].Key == key {
			c.Fields[i].Value = value
			return
		}
	}
	c.Fields = append(c.Fields, Field{Key: key, Value: value})
}

// Get returns the value for key.
func (c Context) Get(key string) (string, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// IssueStatus is the status object Redmine embeds in issues
type IssueStatus struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RemoteIssue is the subset of a Redmine issue the notifier relies on
type RemoteIssue struct {
	ID      int          `json:"id"`
	Subject string       `json:"subject"`
	Status  *IssueStatus `json:"status,omitempty"`
}

// IssuePayload is the body of POST/PUT issues requests
type IssuePayload struct {
	ProjectID   string   `json:"project_id,omitempty"`
	TrackerID   int      `json:"tracker_id,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	TagList     []string `json:"tag_list,omitempty"`
}

type issueEnvelope struct {
	Issue IssuePayload `json:"issue"`
}

type issueResponse struct {
	Issue RemoteIssue `json:"issue"`
}

type issueSearchResponse struct {
	Issues     []RemoteIssue `json:"issues"`
	TotalCount int           `json:"total_count"`
}

// NotifyAction is what a Notify call did on the tracker
type NotifyAction string

const (
	ActionCreated NotifyAction = "created"
	ActionUpdated NotifyAction = "updated"
)

// NotifyResult represents the result of a successful Notify call
type NotifyResult struct {
	Action      NotifyAction `json:"action"`
	Fingerprint string       `json:"fingerprint"`
	Count       int          `json:"count"`
	Issue       RemoteIssue  `json:"issue"`
}

// IssueOptions overrides defaults for custom issues
type IssueOptions struct {
	ProjectID string
	TrackerID int
	Tags      []string
}

// NotifierMetrics represents a snapshot of notifier counters
type NotifierMetrics struct {
	IssuesCreated uint64
	IssuesUpdated uint64
	Throttled     uint64
	Failures      uint64
	CustomIssues  uint64
	Evictions     uint64
	CacheSize     int
}
