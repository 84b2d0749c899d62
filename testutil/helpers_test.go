package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContexts(t *testing.T) {
	ctx := TestContextWithTimeout(t, time.Minute)
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	assert.NoError(t, TestContext(t).Err())
	assert.Error(t, CancelledContext().Err())
}

func TestWaitFor(t *testing.T) {
	var n atomic.Int32
	assert.True(t, WaitFor(func() bool { return n.Add(1) >= 3 }, time.Second))
	assert.False(t, WaitFor(func() bool { return false }, 20*time.Millisecond))
	AssertEventuallyTrue(t, func() bool { return n.Load() >= 3 }, time.Second)
}

func TestWaitForChannel(t *testing.T) {
	ch := make(chan string, 1)
	ch <- "ack"
	v, ok := WaitForChannel(ch, time.Second)
	assert.True(t, ok)
	assert.Equal(t, "ack", v)

	_, ok = WaitForChannel(ch, 10*time.Millisecond)
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	type ack struct {
		Status    string `json:"status"`
		MessageID string `json:"message_id"`
	}
	raw := MustJSON(ack{Status: "success", MessageID: "m-1"})
	assert.JSONEq(t, `{"status":"success","message_id":"m-1"}`, raw)
	AssertJSONEqual(t, ack{Status: "success", MessageID: "m-1"}, MustParseJSON[ack](raw))
	assert.Panics(t, func() { MustParseJSON[ack]("{") })
}
