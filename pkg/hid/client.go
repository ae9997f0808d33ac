package hid

// AttachEvent distinguishes the two client notification kinds.
type AttachEvent int32

const (
	DeviceDetach AttachEvent = 0
	DeviceAttach AttachEvent = 1
)

// String returns the event name.
func (e AttachEvent) String() string {
	switch e {
	case DeviceDetach:
		return "DETACH"
	case DeviceAttach:
		return "ATTACH"
	default:
		return "UNKNOWN"
	}
}

// AttachCallback receives one notification per device attach or detach. The
// slot pointer aliases pool storage: it is only meaningful until the device's
// slot is released and reused.
type AttachCallback func(client *Client, slot *Slot, event AttachEvent)

// Client is a guest-side subscriber to attach/detach notifications. Clients
// are identified by pointer; subscribing the same Client twice notifies it
// twice.
type Client struct {
	callback AttachCallback
}

// NewClient returns a client delivering notifications to cb. A nil callback
// is allowed and simply drops notifications.
func NewClient(cb AttachCallback) *Client {
	return &Client{callback: cb}
}

func (c *Client) notify(slot *Slot, event AttachEvent) {
	if c.callback != nil {
		c.callback(c, slot, event)
	}
}

// AddClient subscribes a client. New clients are inserted at the FRONT of the
// client list, so registry-driven notifications reach later subscribers
// first; this ordering is inherited behavior, observable but not guaranteed.
//
// Before returning, the client synchronously receives one attach notification
// per already-attached device, in registry order, bringing it up to date with
// the current device set.
func (r *Registry) AddClient(c *Client) {
	r.mu.Lock()
	r.clients = append([]*Client{c}, r.clients...)
	entries := make([]*entry, len(r.devices))
	copy(entries, r.devices)
	r.mu.Unlock()

	for _, e := range entries {
		c.notify(e.slot, DeviceAttach)
	}
	r.log.Debug("client added", "clients", r.ClientCount(), "caught_up", len(entries))
}

// RemoveClient unsubscribes a client. Before returning, the client
// synchronously receives one detach notification per currently attached
// device, telling it about the devices it will no longer see. Removing a
// client that is not subscribed only delivers the catch-up notifications.
func (r *Registry) RemoveClient(c *Client) {
	r.mu.Lock()
	for i, existing := range r.clients {
		if existing == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			break
		}
	}
	entries := make([]*entry, len(r.devices))
	copy(entries, r.devices)
	r.mu.Unlock()

	for _, e := range entries {
		c.notify(e.slot, DeviceDetach)
	}
	r.log.Debug("client removed", "clients", r.ClientCount())
}

// ClientCount returns the number of subscribed clients.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
