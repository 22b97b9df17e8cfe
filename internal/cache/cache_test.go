package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("mm1", 30, 42, 10000, 1000)
	b := Key("mm1", 30, 42, 10000, 1000)
	assert.Equal(t, a, b)
}

func TestKeyDiffersOnAnyField(t *testing.T) {
	base := Key("mm1", 30, 42, 10000, 1000)
	assert.NotEqual(t, base, Key("mm2", 30, 42, 10000, 1000))
	assert.NotEqual(t, base, Key("mm1", 31, 42, 10000, 1000))
	assert.NotEqual(t, base, Key("mm1", 30, 43, 10000, 1000))
	assert.NotEqual(t, base, Key("mm1", 30, 42, 10001, 1000))
	assert.NotEqual(t, base, Key("mm1", 30, 42, 10000, 1001))
}

func TestNewAppliesDefaultTTL(t *testing.T) {
	c := New("localhost:6379", 0)
	assert.NotNil(t, c)
	assert.Equal(t, time.Hour, c.ttl)
}
