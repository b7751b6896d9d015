package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/chunkdex/internal/codec"
)

func TestEvaluator_Match(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	event := codec.Data{
		"kind":   codec.String("transfer"),
		"amount": codec.Uint64(500),
		"small":  codec.Uint8(3),
		"ok":     codec.Bool(true),
	}

	tests := []struct {
		name      string
		condition string
		position  uint64
		want      bool
	}{
		{"empty matches", "", 1, true},
		{"string eq", `event.kind == "transfer"`, 1, true},
		{"string ne", `event.kind == "mint"`, 1, false},
		{"uint vs int literal", `event.amount > 100`, 1, true},
		{"narrow width", `event.small < 4`, 1, true},
		{"bool", `event.ok`, 1, true},
		{"position", `position >= 10u`, 9, false},
		{"has", `has(event.missing)`, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(tt.condition, tt.position, event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	assert.Error(t, e.Compile(`event.kind ==`))
	assert.Error(t, e.Compile(`"not a bool"`))

	_, err = e.Match(`event.missing == 1`, 1, codec.Data{})
	assert.Error(t, err)
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	require.NoError(t, e.Compile(`event.ok`))
	require.NoError(t, e.Compile(`event.ok`))
	assert.Len(t, e.prgCache, 1)
}
