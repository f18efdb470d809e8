package ws

import (
	"testing"

	"unideploy/internal/logbroker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(buffer int) *client {
	return &client{
		send: make(chan logbroker.Frame, buffer),
		done: make(chan struct{}),
	}
}

func TestSendAfterDisconnectReturnsError(t *testing.T) {
	cl := newTestClient(sendBuffer)

	require.NoError(t, cl.Send(logbroker.Frame{Status: "building"}))

	close(cl.done)
	// A broadcaster holding a stale subscriber snapshot must get an
	// error back, never a panic.
	err := cl.Send(logbroker.Frame{Status: "live"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disconnected")
}

func TestSendFullBufferDropsFrame(t *testing.T) {
	cl := newTestClient(1)

	require.NoError(t, cl.Send(logbroker.Frame{Status: "building"}))
	err := cl.Send(logbroker.Frame{Status: "building"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropped")
}

func TestBroadcastDuringDisconnectStorm(t *testing.T) {
	b := logbroker.New()
	const deploymentID = 7

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 2000; i++ {
			b.Broadcast(deploymentID, logbroker.Frame{Status: "building", Log: "line"})
		}
	}()

	// Churn watchers through the teardown sequence while the broadcast
	// runs; any send-on-closed-channel panic fails the test.
	for i := 0; i < 500; i++ {
		cl := newTestClient(4)
		b.Subscribe(deploymentID, cl)
		b.Unsubscribe(deploymentID, cl)
		close(cl.done)
	}
	<-finished

	assert.Equal(t, 0, b.SubscriberCount(deploymentID))
}
