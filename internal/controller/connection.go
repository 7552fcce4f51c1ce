// Package controller implements the per-firmware controller state machines (GrblController,
// TinyG2Controller), the connection multiplexer that fans serial events out to subscribed
// clients, and the process-wide port registry.
package controller

import (
	"strings"
	"sync"

	"github.com/opencnc/cncstream/internal/broker"
	"github.com/opencnc/cncstream/internal/protocol"
)

// OutboundEvent is what a subscribed client receives: a named event with its payload
// (serialport:read, feeder:status, Grbl:state, ...).
type OutboundEvent struct {
	Name    string
	Payload any
}

// connection tracks a single subscribed client and, for echo correlation, the raw text of
// whatever that client most recently caused to be written to the device.
type connection struct {
	client          protocol.ClientHandle
	lastSentCommand string
}

// ConnectionMux is the set of clients subscribed to a controller's events, split into fan-out
// (Broadcast) and addressed delivery (SendTo) so a controller can route a query's response
// only to the client that asked.
type ConnectionMux struct {
	mu    sync.Mutex
	conns []*connection

	broker *broker.Broker[OutboundEvent]
}

// ConnectedController is the surface a client transport needs beyond the minimal
// protocol.Controller (Close/Port): subscribing, unsubscribing, and submitting commands.
// Implemented by both GrblController and TinyG2Controller.
type ConnectedController interface {
	protocol.Controller
	AddConnection(client protocol.ClientHandle) <-chan OutboundEvent
	RemoveConnection(client protocol.ClientHandle)
	Command(cmd protocol.Command)
}

func NewConnectionMux() *ConnectionMux {
	return &ConnectionMux{broker: broker.NewBroker[OutboundEvent]()}
}

// Add registers a new client and returns the channel it receives events on, buffered to bufSize
// events. Every publish is delivered from its own goroutine, so events are not dropped when the
// buffer is full: they wait until the client reads or is removed, and their relative order is
// not guaranteed.
func (m *ConnectionMux) Add(client protocol.ClientHandle, bufSize int) <-chan OutboundEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = append(m.conns, &connection{client: client})
	return m.broker.Subscribe(string(client), bufSize)
}

// Remove drops a client by identity. A no-op if the client was never added.
func (m *ConnectionMux) Remove(client protocol.ClientHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.conns {
		if c.client == client {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			break
		}
	}
	m.broker.Unsubscribe(string(client))
}

// Len reports the number of currently subscribed clients.
func (m *ConnectionMux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Broadcast fans an event out to every subscribed client, independently and best-effort.
func (m *ConnectionMux) Broadcast(name string, payload any) {
	_ = m.broker.Publish(OutboundEvent{Name: name, Payload: payload})
}

// SendTo delivers an event to a single client. A no-op if the client isn't subscribed.
func (m *ConnectionMux) SendTo(client protocol.ClientHandle, name string, payload any) {
	_ = m.broker.PublishTo(string(client), OutboundEvent{Name: name, Payload: payload})
}

// SetLastSentCommand records that client is the origin of a write, for later echo correlation.
// Called on any write that originates from a specific client, whether direct (jog, manual
// G-code) or via a feeder item tagged with that client.
func (m *ConnectionMux) SetLastSentCommand(client protocol.ClientHandle, data string) {
	if client == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.client == client {
			c.lastSentCommand = data
			return
		}
	}
}

// RouteByPrefix delivers payload under name to every client whose last-sent-command starts with
// prefix, clearing that field on each match (so the next unrelated event doesn't re-match), and
// reports whether anything matched. Used to route `?`/`$G` query responses back to their asker.
func (m *ConnectionMux) RouteByPrefix(prefix, name string, payload any) bool {
	m.mu.Lock()
	var targets []protocol.ClientHandle
	for _, c := range m.conns {
		if c.lastSentCommand != "" && strings.HasPrefix(c.lastSentCommand, prefix) {
			targets = append(targets, c.client)
			c.lastSentCommand = ""
		}
	}
	m.mu.Unlock()

	for _, client := range targets {
		m.SendTo(client, name, payload)
	}
	return len(targets) > 0
}

// Close tears down every subscriber channel. Called once by the owning controller on teardown.
func (m *ConnectionMux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = nil
	m.broker.Close()
}
