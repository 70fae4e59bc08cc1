package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a stream survives without a fresh announcement.
const DefaultTTL = 120 * time.Second

// Device aggregates the streams announced from one source IP.
type Device struct {
	IP          string
	DisplayName string
	StreamKeys  []Key
}

type device struct {
	ip          string
	displayName string
	keys        map[Key]struct{}
}

func (d *device) snapshot() Device {
	keys := make([]Key, 0, len(d.keys))
	for k := range d.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return Device{
		IP:          d.ip,
		DisplayName: d.displayName,
		StreamKeys:  keys,
	}
}

// Registry is the authoritative map from stream key to Descriptor plus the
// per-IP device aggregation. All methods are safe for concurrent use;
// listeners are invoked after the lock is released.
type Registry struct {
	mu           sync.RWMutex
	streams      map[Key]Descriptor
	devices      map[string]*device
	ttl          time.Duration
	timeProvider TimeProvider
	onDiscovered func(Descriptor)
	onRemoved    func(Descriptor)
}

// NewRegistry creates an empty registry using DefaultTTL.
func NewRegistry() *Registry {
	return NewRegistryWithTimeProvider(DefaultTTL, RealTimeProvider{})
}

// NewRegistryWithTimeProvider creates a registry with a custom TTL and clock.
func NewRegistryWithTimeProvider(ttl time.Duration, tp TimeProvider) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &Registry{
		streams:      make(map[Key]Descriptor),
		devices:      make(map[string]*device),
		ttl:          ttl,
		timeProvider: tp,
	}
}

// OnStreamDiscovered registers the callback fired when a stream becomes
// active.
func (r *Registry) OnStreamDiscovered(callback func(Descriptor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDiscovered = callback
}

// OnStreamRemoved registers the callback fired when a stream is withdrawn or
// expires.
func (r *Registry) OnStreamRemoved(callback func(Descriptor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemoved = callback
}

// TTL returns the expiry window used by Sweep.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Upsert stores d under its key, replacing any previous entry, and reports
// whether the key was new.
//
// The discovered callback fires when the key is new and d is active, or when
// an entry previously marked deleted becomes active again. A deleted
// descriptor is still stored; when it replaces an active entry the removed
// callback fires once.
func (r *Registry) Upsert(d Descriptor) bool {
	if d.LastSeenAt.IsZero() {
		d.LastSeenAt = r.timeProvider.Now()
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	key := d.Key()

	r.mu.Lock()
	prev, exists := r.streams[key]
	r.streams[key] = d

	dev, ok := r.devices[d.SourceIP]
	if !ok {
		dev = &device{
			ip:          d.SourceIP,
			displayName: d.SourceIP,
			keys:        make(map[Key]struct{}),
		}
		r.devices[d.SourceIP] = dev
	}
	dev.keys[key] = struct{}{}

	discovered := d.Status == StatusActive && (!exists || prev.Status == StatusDeleted)
	removed := d.Status == StatusDeleted && exists && prev.Status == StatusActive
	onDiscovered, onRemoved := r.onDiscovered, r.onRemoved
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Upsert",
		"key":      key,
		"status":   d.Status,
		"new":      !exists,
	}).Debug("Stream descriptor stored")

	if discovered {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Upsert",
			"key":      key,
			"name":     d.Name,
			"format":   d.Format().String(),
		}).Info("Stream discovered")
		if onDiscovered != nil {
			onDiscovered(d)
		}
	}
	if removed {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Upsert",
			"key":      key,
		}).Info("Stream withdrawn")
		if onRemoved != nil {
			onRemoved(d)
		}
	}

	return !exists
}

// Sweep removes every entry whose last announcement is more than the TTL
// before now and returns the removed descriptors sorted by key. The removed
// callback fires for each expired entry that was still active; withdrawn
// entries were already reported by Upsert.
func (r *Registry) Sweep(now time.Time) []Descriptor {
	r.mu.Lock()
	var expired []Descriptor
	for key, d := range r.streams {
		if now.Sub(d.LastSeenAt) <= r.ttl {
			continue
		}
		expired = append(expired, d)
		delete(r.streams, key)

		if dev, ok := r.devices[d.SourceIP]; ok {
			delete(dev.keys, key)
			if len(dev.keys) == 0 {
				delete(r.devices, d.SourceIP)
			}
		}
	}
	onRemoved := r.onRemoved
	r.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].Key() < expired[j].Key() })

	for _, d := range expired {
		logrus.WithFields(logrus.Fields{
			"function":  "Registry.Sweep",
			"key":       d.Key(),
			"last_seen": d.LastSeenAt.Format(time.RFC3339),
		}).Info("Stream expired")
		if onRemoved != nil && d.Status == StatusActive {
			onRemoved(d)
		}
	}

	return expired
}

// Get returns the descriptor stored under key.
func (r *Registry) Get(key Key) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.streams[key]
	return d, ok
}

// List returns all descriptors sorted by key.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.streams))
	for _, d := range r.streams {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of stored descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// ListDevices returns all devices sorted by IP.
func (r *Registry) ListDevices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// SetDeviceName sets the display name of a known device. It returns false if
// no stream from ip has been registered.
func (r *Registry) SetDeviceName(ip, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[ip]
	if !ok {
		return false
	}
	if name == "" {
		name = ip
	}
	dev.displayName = name
	return true
}
