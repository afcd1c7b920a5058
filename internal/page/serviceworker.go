package page

import "sync"

// ServiceWorkerContainer emulates navigator.serviceWorker
type ServiceWorkerContainer struct {
	mu         sync.Mutex
	controlled bool
	scriptURL  string
	next       uint64
	subs       map[uint64]func()
}

func newServiceWorkerContainer() *ServiceWorkerContainer {
	return &ServiceWorkerContainer{subs: make(map[uint64]func())}
}

// Controlled reports whether a worker controls the page
func (c *ServiceWorkerContainer) Controlled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlled
}

// ScriptURL returns the controlling worker script
func (c *ServiceWorkerContainer) ScriptURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scriptURL
}

// OnControllerChange registers fn for controllerchange
func (c *ServiceWorkerContainer) OnControllerChange(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	sid := c.next
	c.subs[sid] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, sid)
		c.mu.Unlock()
	}
}

// Activate installs scriptURL as the controller and fires controllerchange
func (c *ServiceWorkerContainer) Activate(scriptURL string) {
	c.mu.Lock()
	c.controlled = true
	c.scriptURL = scriptURL
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
