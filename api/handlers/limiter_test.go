package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
)

func TestSenderLimiter(t *testing.T) {
	l := NewSenderLimiter(LimiterConfig{RequestsPerMinute: 60, Burst: 2, MaxSenders: 2})
	require.NotNil(t, l)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	// 容量满后淘汰最久未出现的发送方, 它重新获得完整配额
	assert.True(t, l.Allow("c"))
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Allow("a"))
}

func TestSenderLimiter_Disabled(t *testing.T) {
	var l *SenderLimiter
	assert.Nil(t, NewSenderLimiter(LimiterConfig{}))
	assert.True(t, l.Allow("anyone"))
	assert.Zero(t, l.Len())
}

func TestLimiterConfigFromCard(t *testing.T) {
	fallback := LimiterConfig{RequestsPerMinute: 600, Burst: 10}
	rpm := 30
	card := &a2a.AgentCard{RateLimit: &a2a.RateLimit{RequestsPerMinute: &rpm}}

	assert.Equal(t, 30, LimiterConfigFromCard(card, fallback).RequestsPerMinute)
	assert.Equal(t, 10, LimiterConfigFromCard(card, fallback).Burst)
	assert.Equal(t, 600, LimiterConfigFromCard(&a2a.AgentCard{}, fallback).RequestsPerMinute)
	assert.Equal(t, 600, LimiterConfigFromCard(nil, fallback).RequestsPerMinute)
}

func TestSenderLimiter_Update(t *testing.T) {
	l := NewSenderLimiter(LimiterConfig{RequestsPerMinute: 60, Burst: 1})
	require.NotNil(t, l)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	require.True(t, l.Update(LimiterConfig{RequestsPerMinute: 60, Burst: 3}))
	for range 3 {
		assert.True(t, l.Allow("fresh"))
	}
	assert.False(t, l.Allow("fresh"))

	assert.False(t, l.Update(LimiterConfig{}))
	var disabled *SenderLimiter
	assert.False(t, disabled.Update(LimiterConfig{RequestsPerMinute: 10}))
}
