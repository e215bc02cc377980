package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsStepsInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var order []string
	for _, name := range []string{"health server", "storage", "opentelemetry"} {
		name := name
		sm.RegisterShutdownFunc(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"health server", "storage", "opentelemetry"}, order)
}

func TestShutdownManager_ContinuesPastErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var ranAfter bool
	sm.RegisterShutdownFunc("db", func(context.Context) error { return errors.New("close failed") })
	sm.RegisterShutdownFunc("ok", func(context.Context) error {
		ranAfter = true
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.True(t, ranAfter)
	assert.Contains(t, err.Error(), "1 errors")
	assert.Contains(t, err.Error(), "db: close failed")

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Data["step"] == "db" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestShutdownManager_TimeoutSkipsRemaining(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, 20*time.Millisecond)

	var ranAfter bool
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	sm.RegisterShutdownFunc("after", func(context.Context) error {
		ranAfter = true
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow: shutdown timeout reached")
	assert.Contains(t, err.Error(), "after: skipped")
	assert.False(t, ranAfter)
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.WaitForShutdown(ctx))
}
