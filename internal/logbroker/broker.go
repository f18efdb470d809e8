// Package logbroker fans deployment status frames out to subscribers.
// There is no replay: subscribers that attach late only see subsequent
// frames; terminal state lives on the Deployment row.
package logbroker

import (
	"sync"

	"unideploy/internal/logging"
)

// Frame is one status update pushed to clients watching a deployment.
type Frame struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Log     string      `json:"log,omitempty"`
	Error   string      `json:"error,omitempty"`
	Domain  string      `json:"domain,omitempty"`
	AutoFix interface{} `json:"autofix,omitempty"`
}

// Sink receives frames for one deployment. Implementations must be safe
// for concurrent use; a failing sink is logged and skipped, never
// allowed to break delivery to its peers.
type Sink interface {
	Send(frame Frame) error
}

// Broker is the per-deployment subscriber registry.
type Broker struct {
	mu    sync.RWMutex
	sinks map[uint][]Sink
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{sinks: make(map[uint][]Sink)}
}

// Subscribe registers a sink for a deployment.
func (b *Broker) Subscribe(deploymentID uint, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[deploymentID] = append(b.sinks[deploymentID], sink)
}

// Unsubscribe removes a sink, dropping the deployment's list when empty.
func (b *Broker) Unsubscribe(deploymentID uint, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.sinks[deploymentID]
	for i, s := range list {
		if s == sink {
			b.sinks[deploymentID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.sinks[deploymentID]) == 0 {
		delete(b.sinks, deploymentID)
	}
}

// Broadcast delivers a frame to every sink for the deployment. The
// subscriber list is snapshotted under the read lock so delivery never
// blocks registration. Frames broadcast from a single goroutine (the
// pipeline) arrive in order.
func (b *Broker) Broadcast(deploymentID uint, frame Frame) {
	b.mu.RLock()
	snapshot := make([]Sink, len(b.sinks[deploymentID]))
	copy(snapshot, b.sinks[deploymentID])
	b.mu.RUnlock()

	for _, sink := range snapshot {
		if err := sink.Send(frame); err != nil {
			logging.S().Warnw("log broker sink delivery failed",
				"deployment_id", deploymentID, "error", err)
		}
	}
}

// SubscriberCount returns the number of sinks attached to a deployment.
func (b *Broker) SubscriberCount(deploymentID uint) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks[deploymentID])
}
