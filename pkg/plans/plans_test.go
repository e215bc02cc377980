package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		raw    string
		want   Name
		wantOK bool
	}{
		{"free", Free, true},
		{"PRO", Pro, true},
		{" team ", Team, true},
		{"enterprise", Enterprise, true},
		{"gold", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseName(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	free, ok := table.Limits(Free)
	require.True(t, ok)
	assert.Equal(t, int64(25), *free.DocumentLimit)
	assert.Equal(t, int64(20), *free.MonthlyAICallLimit)

	team, ok := table.Limits(Team)
	require.True(t, ok)
	assert.Nil(t, team.DocumentLimit)
	assert.Equal(t, int64(10), *team.SeatLimit)

	ent, ok := table.Limits(Enterprise)
	require.True(t, ok)
	assert.Nil(t, ent.DocumentLimit)
	assert.Nil(t, ent.StorageLimitMB)
	assert.Nil(t, ent.MonthlyAICallLimit)
	assert.Nil(t, ent.SeatLimit)

	assert.Equal(t, []Name{Free, Pro, Team, Enterprise}, table.Names())
}

func TestEntitlement(t *testing.T) {
	table := DefaultTable()

	pro := table.Entitlement(Pro)
	assert.Equal(t, Pro, pro.Plan)
	assert.Equal(t, int64(1), *pro.SeatLimit)
	assert.Equal(t, int64(1000), *pro.DocumentLimit)

	unknown := table.Entitlement("gold")
	assert.Equal(t, Free, unknown.Plan)
	assert.Equal(t, int64(25), *unknown.DocumentLimit)
}

func TestLimitsAreCopies(t *testing.T) {
	table := DefaultTable()

	l, _ := table.Limits(Free)
	*l.DocumentLimit = 9999

	again, _ := table.Limits(Free)
	assert.Equal(t, int64(25), *again.DocumentLimit)
}

func TestPriceBindings(t *testing.T) {
	table := DefaultTable()

	_, ok := table.PlanForPrice("price_team")
	assert.False(t, ok)
	_, ok = table.PlanForPrice("")
	assert.False(t, ok)

	table.BindPrice("price_team", Team)
	name, ok := table.PlanForPrice("price_team")
	require.True(t, ok)
	assert.Equal(t, Team, name)
}

func TestReplace(t *testing.T) {
	table := DefaultTable()
	next := NewTable(map[Name]Limits{Pro: {DocumentLimit: Limit(5)}}, map[string]Name{"p": Pro})

	table.Replace(next)

	pro, _ := table.Limits(Pro)
	assert.Equal(t, int64(5), *pro.DocumentLimit)
	assert.Nil(t, pro.SeatLimit)
	name, ok := table.PlanForPrice("p")
	assert.True(t, ok)
	assert.Equal(t, Pro, name)
}

func TestFormatLimit(t *testing.T) {
	assert.Equal(t, "unlimited", FormatLimit(nil))
	assert.Equal(t, "42", FormatLimit(Limit(42)))
}
