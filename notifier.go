package redmine_notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Notifier reports exceptions to Redmine, folding repeated occurrences of the
// same fingerprint into a single issue. It is safe for concurrent use.
//
// None of its public methods return errors: a failure to report is logged and
// surfaces as a nil result.
type Notifier struct {
	config   *Config
	tracker  IssueTracker
	cache    *OccurrenceCache
	metrics  *metricsCollector
	logger   *zap.Logger
	now      func() time.Time
	inactive string // reason the notifier is a no-op, empty when active
}

// Option customizes a Notifier
type Option func(*Notifier)

// WithClock replaces time.Now for the notifier and its cache
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
		n.cache.now = now
	}
}

// New builds a Notifier talking to the Redmine instance described by cfg.
// A disabled or incomplete configuration yields a no-op Notifier, not an error.
func New(cfg *Config, logger *zap.Logger, opts ...Option) (*Notifier, error) {
	cfg.InitDefaults()

	var tracker IssueTracker
	if cfg.IsEnabled() && cfg.IsValid() {
		client, err := NewRedmineClient(&cfg.Transport, cfg.RedmineURL, cfg.APIKey, logger)
		if err != nil {
			return nil, err
		}
		tracker = client
	}

	return NewNotifier(cfg, tracker, logger, opts...), nil
}

// NewNotifier creates a Notifier on top of an existing tracker client
func NewNotifier(cfg *Config, tracker IssueTracker, logger *zap.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.InitDefaults()

	n := &Notifier{
		config:  cfg,
		tracker: tracker,
		cache:   NewOccurrenceCache(logger),
		logger:  logger,
		now:     time.Now,
	}
	n.metrics = newMetricsCollector(n.cache.Len)
	n.cache.onEvict = n.metrics.AddEvictions

	for _, opt := range opts {
		opt(n)
	}

	switch {
	case !cfg.IsEnabled():
		n.inactive = "disabled"
	case !cfg.IsValid():
		n.inactive = "invalid configuration"
		logger.Warn("Redmine notifier is not configured, reports will be dropped", zap.Error(cfg.Validate()))
	case tracker == nil:
		n.inactive = "no tracker client"
	}

	return n
}

// Notify reports exc. It creates an issue for a new fingerprint, bumps the
// occurrence count of the matching open issue otherwise, and does nothing
// while the fingerprint is within its cooldown.
func (n *Notifier) Notify(ctx context.Context, exc ExceptionDescriptor, c Context) (result *NotifyResult) {
	defer n.recoverPanic("notify", func() { result = nil })

	if n.inactive != "" {
		n.logger.Debug("Notification dropped", zap.String("reason", n.inactive), zap.String("class", exc.ClassName))
		return nil
	}

	fingerprint := Checksum(exc)
	logger := n.logger.With(zap.String("fingerprint", fingerprint), zap.String("class", exc.ClassName))

	if n.cache.Observe(fingerprint, n.config.CooldownDuration()) {
		n.metrics.IncThrottled()
		logger.Debug("Notification throttled", zap.Duration("cooldown", n.config.CooldownDuration()))
		return nil
	}

	existing, err := n.tracker.Search(ctx, n.config.ProjectID, fingerprint)
	if err != nil {
		n.metrics.IncFailures()
		logger.Error("Failed to search for existing issue", zap.Error(err))
		return nil
	}

	if existing == nil {
		return n.createIssue(ctx, logger, fingerprint, exc, c)
	}
	return n.updateIssue(ctx, logger, existing, exc, c)
}

func (n *Notifier) createIssue(ctx context.Context, logger *zap.Logger, fingerprint string, exc ExceptionDescriptor, c Context) *NotifyResult {
	payload := IssuePayload{
		ProjectID:   n.config.ProjectID,
		TrackerID:   n.config.TrackerID,
		Subject:     BuildSubject(fingerprint, 1, exc),
		Description: BuildDescription(exc, c, n.config.AppName, n.now()),
		TagList:     MergeTags(n.config.DefaultTags, c.Tags),
	}

	issue, err := n.tracker.Create(ctx, payload)
	if err != nil {
		n.metrics.IncFailures()
		logger.Error("Failed to create issue", zap.Error(err))
		return nil
	}

	n.metrics.IncIssuesCreated()
	logger.Info("Issue created", zap.Int("issue_id", issue.ID))

	return &NotifyResult{
		Action:      ActionCreated,
		Fingerprint: fingerprint,
		Count:       1,
		Issue:       *issue,
	}
}

func (n *Notifier) updateIssue(ctx context.Context, logger *zap.Logger, existing *RemoteIssue, exc ExceptionDescriptor, c Context) *NotifyResult {
	count := ParseCount(existing.Subject) + 1

	// A subject without a marker keeps an empty one, the issue is still updated
	subjectFingerprint := ParseFingerprint(existing.Subject)

	payload := IssuePayload{
		Subject: BuildSubject(subjectFingerprint, count, exc),
		Notes:   BuildJournalNote(exc, c, count, n.now()),
	}

	if err := n.tracker.Update(ctx, existing.ID, payload); err != nil {
		n.metrics.IncFailures()
		logger.Error("Failed to update issue", zap.Int("issue_id", existing.ID), zap.Error(err))
		return nil
	}

	n.metrics.IncIssuesUpdated()
	logger.Info("Issue updated", zap.Int("issue_id", existing.ID), zap.Int("count", count))

	return &NotifyResult{
		Action:      ActionUpdated,
		Fingerprint: subjectFingerprint,
		Count:       count,
		Issue: RemoteIssue{
			ID:      existing.ID,
			Subject: payload.Subject,
			Status:  existing.Status,
		},
	}
}

// CreateIssue creates an arbitrary issue, bypassing fingerprinting and the
// cooldown. Empty project and tracker fall back to the configured ones.
func (n *Notifier) CreateIssue(ctx context.Context, subject, description string, opts IssueOptions) (issue *RemoteIssue) {
	defer n.recoverPanic("create_issue", func() { issue = nil })

	if n.inactive != "" {
		n.logger.Debug("Custom issue dropped", zap.String("reason", n.inactive), zap.String("subject", subject))
		return nil
	}

	payload := IssuePayload{
		ProjectID:   n.config.ProjectID,
		TrackerID:   n.config.TrackerID,
		Subject:     subject,
		Description: description,
		TagList:     MergeTags(n.config.DefaultTags, opts.Tags),
	}
	if opts.ProjectID != "" {
		payload.ProjectID = opts.ProjectID
	}
	if opts.TrackerID != 0 {
		payload.TrackerID = opts.TrackerID
	}

	created, err := n.tracker.Create(ctx, payload)
	if err != nil {
		n.metrics.IncFailures()
		n.logger.Error("Failed to create custom issue", zap.String("subject", subject), zap.Error(err))
		return nil
	}

	n.metrics.IncCustomIssues()
	n.logger.Info("Custom issue created", zap.Int("issue_id", created.ID), zap.String("project_id", payload.ProjectID))

	return created
}

// ResetCache forgets every fingerprint seen so far
func (n *Notifier) ResetCache() {
	n.cache.Reset()
}

// CleanupCache drops fingerprints whose cooldown has expired
func (n *Notifier) CleanupCache() int {
	return n.cache.CleanupExpired(n.config.CooldownDuration())
}

// Active reports whether reports reach Redmine
func (n *Notifier) Active() bool {
	return n.inactive == ""
}

// GetMetrics returns a snapshot of the notifier counters
func (n *Notifier) GetMetrics() *NotifierMetrics {
	return n.metrics.Snapshot()
}

// Collector exposes the notifier counters to Prometheus
func (n *Notifier) Collector() prometheus.Collector {
	return n.metrics
}

// recoverPanic keeps a reporting bug from crashing the caller
func (n *Notifier) recoverPanic(op string, onPanic func()) {
	if r := recover(); r != nil {
		n.metrics.IncFailures()
		n.logger.Error("Recovered from panic while reporting",
			zap.String("op", op),
			zap.String("panic", fmt.Sprint(r)))
		onPanic()
	}
}
