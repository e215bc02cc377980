package plans

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlanFile = `
plans:
  pro:
    document_limit: 2000
    storage_limit_mb: 10240
    monthly_ai_call_limit: 1000
    seat_limit: 1
  team:
    document_limit: null
    seat_limit: 25
prices:
  price_pro_monthly: pro
  price_team_monthly: team
`

func TestParse(t *testing.T) {
	table, err := Parse([]byte(samplePlanFile))
	require.NoError(t, err)

	pro, ok := table.Limits(Pro)
	require.True(t, ok)
	assert.Equal(t, int64(2000), *pro.DocumentLimit)
	assert.Equal(t, int64(1000), *pro.MonthlyAICallLimit)

	team, _ := table.Limits(Team)
	assert.Nil(t, team.DocumentLimit)
	assert.Nil(t, team.MonthlyAICallLimit)
	assert.Equal(t, int64(25), *team.SeatLimit)

	// plans absent from the file keep their defaults
	free, _ := table.Limits(Free)
	assert.Equal(t, int64(25), *free.DocumentLimit)

	name, ok := table.PlanForPrice("price_team_monthly")
	require.True(t, ok)
	assert.Equal(t, Team, name)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown plan", data: "plans:\n  gold:\n    seat_limit: 1\n"},
		{name: "unknown price plan", data: "prices:\n  price_x: gold\n"},
		{name: "bad yaml", data: "plans: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  price_a: pro\n"), 0o644))

	table := DefaultTable()
	var reloads atomic.Int32
	w := NewWatcher(path, table, logrus.New(), func() { reloads.Add(1) })
	require.NoError(t, w.Reload())

	name, ok := table.PlanForPrice("price_a")
	require.True(t, ok)
	assert.Equal(t, Pro, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  price_a: team\n"), 0o644))

	assert.Eventually(t, func() bool {
		name, ok := table.PlanForPrice("price_a")
		return ok && name == Team
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherKeepsTableOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  gold: {}\n"), 0o644))

	table := DefaultTable()
	w := NewWatcher(path, table, logrus.New(), nil)
	assert.Error(t, w.Reload())

	pro, _ := table.Limits(Pro)
	assert.Equal(t, int64(1000), *pro.DocumentLimit)
}
