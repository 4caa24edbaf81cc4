package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/commit365/chatzipper/internal/config"
)

// blockingRunner runs until its context is cancelled.
type blockingRunner struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	return ctx.Err()
}

// failingRunner fails as soon as it starts.
type failingRunner struct {
	err error
}

func (r failingRunner) Run(_ context.Context) error {
	return r.err
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddr:      "127.0.0.1:0",
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		IdleTimeout:     5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		MaxHeaderBytes:  1 << 20,
	}
}

func testDeps(b Runner) Deps {
	return Deps{
		Logger:     zerolog.Nop(),
		OpsHandler: http.NotFoundHandler(),
		Bot:        b,
	}
}

func TestNewManager_ValidatesDeps(t *testing.T) {
	_, err := NewManager(testServerConfig(), Deps{Logger: zerolog.Nop(), Bot: newBlockingRunner()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ops handler")

	_, err = NewManager(testServerConfig(), Deps{Logger: zerolog.Nop(), OpsHandler: http.NotFoundHandler()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot runner")
}

func TestShutdown_BeforeStart(t *testing.T) {
	m, err := NewManager(testServerConfig(), testDeps(newBlockingRunner()))
	require.NoError(t, err)

	err = m.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrManagerNotStarted)
}

func TestStart_GracefulShutdownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bot := newBlockingRunner()
	m, err := NewManager(testServerConfig(), testDeps(bot))
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	m.RegisterShutdownHook("first", func(_ context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
		return nil
	})
	m.RegisterShutdownHook("second", func(_ context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	select {
	case <-bot.started:
	case <-time.After(5 * time.Second):
		t.Fatal("bot runner never started")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}

	// hooks run LIFO
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestStart_ComponentFailureTriggersShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("poller exploded")
	m, err := NewManager(testServerConfig(), testDeps(failingRunner{err: boom}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = m.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poller exploded")
}

func TestStart_AlreadyStarted(t *testing.T) {
	bot := newBlockingRunner()
	m, err := NewManager(testServerConfig(), testDeps(bot))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	select {
	case <-bot.started:
	case <-time.After(5 * time.Second):
		t.Fatal("bot runner never started")
	}

	err = m.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	bot := newBlockingRunner()
	m, err := NewManager(testServerConfig(), testDeps(bot))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	select {
	case <-bot.started:
	case <-time.After(5 * time.Second):
		t.Fatal("bot runner never started")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}

	// a second shutdown is a no-op
	require.NoError(t, m.Shutdown(context.Background()))
}
