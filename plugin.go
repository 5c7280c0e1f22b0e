package redmine_notifier

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Plugin represents the main plugin structure
type Plugin struct {
	config   *Config
	logger   *zap.Logger
	notifier *Notifier

	// Lifecycle, mu guards started and stopped
	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Reporter is what other plugins and the RPC layer use to report errors
type Reporter interface {
	Notify(ctx context.Context, exc ExceptionDescriptor, c Context) *NotifyResult
	CreateIssue(ctx context.Context, subject, description string, opts IssueOptions) *RemoteIssue
	ResetCache()
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("redmine_notifier_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	config.InitDefaults()
	if !config.IsEnabled() {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)

	// An incomplete config keeps the plugin alive as a no-op so callers never break
	notifier, err := New(config, p.logger)
	if err != nil {
		return errors.E(op, err)
	}
	p.notifier = notifier

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Redmine notifier plugin initialized",
		zap.Bool("active", notifier.Active()),
		zap.String("project_id", config.ProjectID),
		zap.Int("tracker_id", config.TrackerID),
		zap.Duration("cooldown", config.CooldownDuration()),
		zap.Strings("default_tags", config.DefaultTags))

	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E(errors.Op("redmine_notifier_serve"), errors.Str("plugin not initialized"))
		return errCh
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return errCh
	}
	p.started = true

	go func() {
		defer close(p.doneCh)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go p.cleanupRoutine(ctx)

		p.logger.Info("Redmine notifier plugin started")

		<-p.stopCh

		if c, ok := p.notifier.tracker.(*RedmineClient); ok {
			if err := c.Close(); err != nil {
				p.logger.Error("Error closing Redmine client", zap.Error(err))
			}
		}

		p.logger.Info("Redmine notifier plugin stopped")
	}()

	return errCh
}

// Stop stops the plugin
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh == nil {
		return nil
	}

	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
		if !p.started {
			close(p.doneCh)
		}
	}
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		p.logger.Warn("Plugin stop timed out")
		return ctx.Err()
	}
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p.notifier, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*Reporter)(nil), p.Reporter),
	}
}

// Reporter returns the reporter interface
func (p *Plugin) Reporter() Reporter {
	return p.notifier
}

// MetricsCollector exposes notifier counters to the metrics plugin
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	return []prometheus.Collector{p.notifier.Collector()}
}

// cleanupRoutine periodically drops fingerprints past their cooldown
func (p *Plugin) cleanupRoutine(ctx context.Context) {
	interval := p.config.Cache.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := p.notifier.CleanupCache(); removed > 0 {
				p.logger.Debug("Expired fingerprints removed", zap.Int("count", removed))
			}
		}
	}
}
