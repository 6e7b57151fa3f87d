package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitAllows(t *testing.T) {
	assert.True(t, Limit(3).Allows(0))
	assert.True(t, Limit(3).Allows(2))
	assert.False(t, Limit(3).Allows(3))
	assert.False(t, Limit(0).Allows(0))
	assert.True(t, Unlimited.Allows(1<<40))
}

func TestLimitJSON(t *testing.T) {
	data, err := json.Marshal(Unlimited)
	require.NoError(t, err)
	assert.Equal(t, `"unlimited"`, string(data))

	data, err = json.Marshal(Limit(10))
	require.NoError(t, err)
	assert.Equal(t, `10`, string(data))

	var l Limit
	require.NoError(t, json.Unmarshal([]byte(`"unlimited"`), &l))
	assert.True(t, l.IsUnlimited())

	require.NoError(t, json.Unmarshal([]byte(`25`), &l))
	assert.Equal(t, Limit(25), l)

	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &l))
}
