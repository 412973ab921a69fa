package mdns

import (
	"context"
	"sync"

	"github.com/brutella/dnssd"

	"github.com/nightcast/airplay2/pkg/aperrors"
)

// ServiceTypeAirPlay2 and ServiceTypeRAOP are the two service types this
// module advertises (spec.md §4.7).
const (
	ServiceTypeAirPlay2 = "_airplay._tcp"
	ServiceTypeRAOP     = "_raop._tcp"
)

// Advertiser owns the single process-wide mDNS service instance (spec.md
// §5: "the mDNS daemon is process-wide"). All operations are serialized
// through one mutex with short critical sections.
type Advertiser struct {
	mu        sync.Mutex
	responder dnssd.Responder
	handle    dnssd.ServiceHandle
	cancel    context.CancelFunc

	serviceType string
	name        string
	port        int
}

// NewAdvertiser creates an Advertiser for the given service type
// (ServiceTypeAirPlay2 or ServiceTypeRAOP), instance name, and TCP port.
// It does not register anything until Start is called.
func NewAdvertiser(serviceType, name string, port int) (*Advertiser, error) {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindDiscoveryFailed, "create mDNS responder", err)
	}
	return &Advertiser{responder: responder, serviceType: serviceType, name: name, port: port}, nil
}

// Start registers the service with the given TXT record and begins
// responding to mDNS queries in the background.
func (a *Advertiser) Start(txt map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := dnssd.Config{
		Name: a.name,
		Type: a.serviceType,
		Port: a.port,
		Text: txt,
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return aperrors.Wrap(aperrors.KindDiscoveryFailed, "build mDNS service config", err)
	}

	handle, err := a.responder.Add(service)
	if err != nil {
		return aperrors.Wrap(aperrors.KindDiscoveryFailed, "register mDNS service", err)
	}
	a.handle = handle

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.responder.Respond(ctx) //nolint:errcheck // surfaced only via logs; Stop cancels this loop deliberately

	return nil
}

// Update re-registers the service with a new TXT record: unregister then
// register, per spec.md §4.7 ("callers must expect a brief invisibility
// window"). The unregister step, which also stops the current responder
// loop, runs under the mutex; the mutex is released before Start takes it
// again to register, so a concurrent caller may observe the service
// unregistered in between.
func (a *Advertiser) Update(txt map[string]string) error {
	a.mu.Lock()
	if a.handle != nil {
		a.responder.Remove(a.handle)
		a.handle = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.mu.Unlock()

	return a.Start(txt)
}

// Stop unregisters the service and tears down the responder loop.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil {
		a.responder.Remove(a.handle)
		a.handle = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}
