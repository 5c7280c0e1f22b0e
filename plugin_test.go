package redmine_notifier

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roadrunner-server/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConfigurer struct {
	section *Config
}

func (f *fakeConfigurer) Has(name string) bool {
	return name == PluginName && f.section != nil
}

func (f *fakeConfigurer) UnmarshalKey(_ string, out interface{}) error {
	*(out.(*Config)) = *f.section
	return nil
}

type fakeLogger struct{}

func (fakeLogger) NamedLogger(string) *zap.Logger { return zap.NewNop() }

func TestPlugin_InitWithoutSection(t *testing.T) {
	p := &Plugin{}
	err := p.Init(&fakeConfigurer{}, fakeLogger{})

	require.Error(t, err)
	assert.True(t, errors.Is(errors.Disabled, err))
}

func TestPlugin_InitDisabled(t *testing.T) {
	p := &Plugin{}
	err := p.Init(&fakeConfigurer{section: &Config{
		Enabled:    ptrTo(false),
		RedmineURL: "https://redmine.example.com",
		APIKey:     "k",
	}}, fakeLogger{})

	require.Error(t, err)
	assert.True(t, errors.Is(errors.Disabled, err))
}

func TestPlugin_InitInvalidConfigIsNoop(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.Init(&fakeConfigurer{section: &Config{APIKey: "k"}}, fakeLogger{}))

	require.NotNil(t, p.Reporter())
	assert.False(t, p.notifier.Active())
	assert.Nil(t, p.Reporter().Notify(context.Background(), testException(), Context{}))
	assert.Nil(t, p.Reporter().CreateIssue(context.Background(), "s", "d", IssueOptions{}))
}

func TestPlugin_Lifecycle(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.Init(&fakeConfigurer{section: &Config{
		RedmineURL: "https://redmine.example.com",
		APIKey:     "k",
		Cache:      CacheConfig{CleanupInterval: 10 * time.Millisecond},
	}}, fakeLogger{}))

	assert.Equal(t, PluginName, p.Name())
	assert.True(t, p.notifier.Active())
	assert.Len(t, p.Provides(), 1)
	assert.IsType(t, &RPC{}, p.RPC())

	collectors := p.MetricsCollector()
	require.Len(t, collectors, 1)
	assert.Equal(t, 7, testutil.CollectAndCount(collectors[0]))

	errCh := p.Serve()

	// let the cleanup ticker fire at least once
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	select {
	case err := <-errCh:
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestPlugin_ServeWithoutInit(t *testing.T) {
	p := &Plugin{}
	err := <-p.Serve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")

	assert.NoError(t, p.Stop(context.Background()))
}

func TestPlugin_StopWithoutServe(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.Init(&fakeConfigurer{section: &Config{
		RedmineURL: "https://redmine.example.com",
		APIKey:     "k",
	}}, fakeLogger{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Stop(ctx))
	assert.NoError(t, ctx.Err(), "stop returned before the deadline")

	// serving after stop is a no-op
	errCh := p.Serve()
	select {
	case err := <-errCh:
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestPlugin_StopTwice(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.Init(&fakeConfigurer{section: &Config{
		RedmineURL: "https://redmine.example.com",
		APIKey:     "k",
	}}, fakeLogger{}))
	p.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Stop(ctx))
	assert.NotPanics(t, func() { require.NoError(t, p.Stop(ctx)) })
}
