// Package devices tracks the audio and video devices available on the host
// and the user's selection per kind. Selections persist across restarts.
// Pure bookkeeping; propagating a new selection into a live media session is
// the caller's job.
package devices

import (
	"context"
	"sync"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
)

type Kind string

const (
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
	KindVideoInput  Kind = "videoinput"
)

const (
	ErrUnknownDevice errors.Code = "unknown_device"
	ErrUnknownKind   errors.Code = "unknown_kind"
)

// Info describes one enumerated device. Default marks the device the
// platform reports as its current default for the kind.
type Info struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    Kind   `json:"kind"`
	Default bool   `json:"default"`
}

// Enumerator lists the devices currently visible to the platform.
type Enumerator interface {
	Enumerate() ([]Info, error)
}

// Store persists device selections.
type Store interface {
	Load(ctx context.Context) (map[Kind]string, error)
	Save(ctx context.Context, kind Kind, deviceID string) error
}

type Registry struct {
	enum   Enumerator
	store  Store
	logger *log.Logger

	mu       sync.RWMutex
	devices  map[Kind][]Info
	selected map[Kind]string
}

func NewRegistry(enum Enumerator, store Store, logger *log.Logger) *Registry {
	if enum == nil || store == nil || logger == nil {
		panic("devices: enumerator, store and logger are required")
	}
	return &Registry{
		enum:     enum,
		store:    store,
		logger:   logger,
		devices:  map[Kind][]Info{},
		selected: map[Kind]string{},
	}
}

// Load restores persisted selections. Called once at startup, before the
// first Refresh.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, id := range stored {
		r.selected[kind] = id
	}
	return nil
}

// Refresh re-enumerates the host's devices. Entries without a resolvable id
// are dropped. A kind with no current selection auto-selects the platform
// default; an existing selection is kept even when the device is currently
// absent, so unplugging a headset does not forget it.
func (r *Registry) Refresh(ctx context.Context) error {
	all, err := r.enum.Enumerate()
	if err != nil {
		return err
	}
	refreshes.Add(ctx, 1)

	byKind := map[Kind][]Info{}
	for _, d := range all {
		if d.ID == "" {
			continue
		}
		byKind[d.Kind] = append(byKind[d.Kind], d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = byKind
	for kind, list := range byKind {
		if r.selected[kind] != "" {
			continue
		}
		if def := defaultOf(list); def != "" {
			r.selected[kind] = def
			r.logger.Info("auto-selected default device",
				log.String("kind", string(kind)), log.String("device_id", def))
		}
	}
	return nil
}

// Select records and persists the selection for a kind. The device must be
// present in the last enumeration.
func (r *Registry) Select(ctx context.Context, kind Kind, deviceID string) error {
	switch kind {
	case KindAudioInput, KindAudioOutput, KindVideoInput:
	default:
		return errors.Newf(ErrUnknownKind, "unknown device kind %q", kind)
	}

	r.mu.Lock()
	found := false
	for _, d := range r.devices[kind] {
		if d.ID == deviceID {
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return errors.Newf(ErrUnknownDevice, "device %q not found for kind %q", deviceID, kind)
	}
	r.selected[kind] = deviceID
	r.mu.Unlock()

	if err := r.store.Save(ctx, kind, deviceID); err != nil {
		return err
	}
	selectionsSaved.Add(ctx, 1)
	return nil
}

// Selected returns the current selection for a kind, empty when the platform
// default should be used.
func (r *Registry) Selected(kind Kind) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected[kind]
}

// List returns the devices of a kind from the last Refresh.
func (r *Registry) List(kind Kind) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Info(nil), r.devices[kind]...)
}

func defaultOf(list []Info) string {
	for _, d := range list {
		if d.Default {
			return d.ID
		}
	}
	if len(list) > 0 {
		return list[0].ID
	}
	return ""
}
