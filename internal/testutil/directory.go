package testutil

import (
	"context"
	"sync"

	"eventbuddy/internal/core/contracts"
)

// Directory is a static event directory.
type Directory struct {
	mu         sync.Mutex
	organizers map[string]string
	members    map[string][]string
	Err        error
}

func NewDirectory() *Directory {
	return &Directory{
		organizers: make(map[string]string),
		members:    make(map[string][]string),
	}
}

var _ contracts.EventDirectory = (*Directory)(nil)

// AddEvent registers an event with its organizer and participants.
func (d *Directory) AddEvent(eventID, organizer string, participants ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.organizers[eventID] = organizer
	d.members[eventID] = append([]string{organizer}, participants...)
}

func (d *Directory) EventExists(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	_, ok := d.organizers[eventID]
	return ok, nil
}

func (d *Directory) IsOrganizer(_ context.Context, eventID, principal string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	return d.organizers[eventID] == principal, nil
}

func (d *Directory) ParticipantsOf(_ context.Context, eventID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	return append([]string(nil), d.members[eventID]...), nil
}
