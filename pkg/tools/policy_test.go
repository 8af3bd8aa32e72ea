package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessPolicyAllows(t *testing.T) {
	p := NewAccessPolicy([]string{"sales", "Finance.*", "hr.people"})

	assert.True(t, p.Allows("sales"))
	assert.True(t, p.Allows("SALES"))
	assert.True(t, p.Allows("sales.orders"))
	assert.True(t, p.Allows("finance"))
	assert.True(t, p.Allows("finance.ledger"))
	assert.True(t, p.Allows("hr.people"))

	assert.False(t, p.Allows("hr"))
	assert.False(t, p.Allows("marketing"))
	assert.False(t, p.Allows(""))
}

func TestCheckDeniesUnlistedSourceArgument(t *testing.T) {
	p := NewAccessPolicy([]string{"sales"})

	err := p.Check(Call{
		Name:  "execute_query",
		Input: map[string]any{"source": "forbidden_source", "sql": "SELECT 1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")
	assert.Contains(t, err.Error(), "forbidden_source")
}

func TestCheckAllowsListedSource(t *testing.T) {
	p := NewAccessPolicy([]string{"sales"})

	err := p.Check(Call{
		Name:  "execute_query",
		Input: map[string]any{"source": "sales", "sql": "SELECT count(*) FROM orders"},
	})
	assert.NoError(t, err)
}

func TestCheckScansQueryForQualifiedReferences(t *testing.T) {
	p := NewAccessPolicy([]string{"sales"})

	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{
			name:    "unlisted source behind FROM",
			sql:     "SELECT * FROM secrets.users",
			wantErr: true,
		},
		{
			name:    "unlisted source behind JOIN",
			sql:     "SELECT * FROM orders o JOIN hidden.t ON o.id = t.id",
			wantErr: true,
		},
		{
			name:    "listed source qualifier passes",
			sql:     "SELECT * FROM sales.orders",
			wantErr: false,
		},
		{
			name:    "schema qualifier is exempt",
			sql:     "SELECT * FROM public.users",
			wantErr: false,
		},
		{
			name:    "dotted name outside a clause boundary is ignored",
			sql:     "SELECT price * 1.5 FROM orders WHERE note = 'see admin.notes'",
			wantErr: false,
		},
		{
			name:    "case insensitive keyword",
			sql:     "select * from Secrets.Users",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(Call{Name: "execute_query", Input: map[string]any{"query": tt.sql}})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "Access denied")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckRejectsNonStringSource(t *testing.T) {
	p := NewAccessPolicy([]string{"sales"})
	err := p.Check(Call{Name: "execute_query", Input: map[string]any{"source": 42}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")
}

func TestCheckIgnoresCallsWithoutSourceOrQuery(t *testing.T) {
	p := NewAccessPolicy(nil)
	err := p.Check(Call{Name: "get_time", Input: map[string]any{"timezone": "UTC"}})
	assert.NoError(t, err)
}
