// Package asyncwait provides a tiny Use()/Done()/Wait() in-flight-work
// tracker over a sync.WaitGroup, used through pubsub.Tracked to drain
// in-flight MQTT publishes before the MQTT connection is closed.
package asyncwait

import "sync"

// Group tracks outstanding asynchronous work so a shutdown path can
// wait for it to finish instead of racing a socket/connection close.
type Group struct {
	wg sync.WaitGroup
}

// New returns an empty Group.
func New() *Group { return &Group{} }

// Use marks one unit of work as started; call Done when it finishes.
func (g *Group) Use() { g.wg.Add(1) }

// Done marks one unit of work as finished.
func (g *Group) Done() { g.wg.Done() }

// Wait blocks until every Use has a matching Done.
func (g *Group) Wait() { g.wg.Wait() }
