package device

import "sync"

// Device identifies one sensing source. Index is assigned in discovery
// order and never changes for the lifetime of the process.
type Device struct {
	Index int
	ID    string
}

type Directory struct {
	mu      sync.RWMutex
	byID    map[string]int
	devices []Device
}

// NewDirectory pre-registers ids in the given order.
func NewDirectory(ids ...string) *Directory {
	d := &Directory{byID: make(map[string]int)}
	for _, id := range ids {
		d.Resolve(id)
	}
	return d
}

// Resolve returns the device for id, assigning the next index on first sight.
func (d *Directory) Resolve(id string) Device {
	if dev, ok := d.Lookup(id); ok {
		return dev
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if idx, ok := d.byID[id]; ok {
		return d.devices[idx]
	}
	dev := Device{Index: len(d.devices), ID: id}
	d.byID[id] = dev.Index
	d.devices = append(d.devices, dev)
	return dev
}

func (d *Directory) Lookup(id string) (Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, ok := d.byID[id]
	if !ok {
		return Device{}, false
	}
	return d.devices[idx], true
}

func (d *Directory) Devices() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Device(nil), d.devices...)
}
