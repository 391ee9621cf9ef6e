package main

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bjaus/lessweb"
)

// Species is the kind of animal a pet is.
type Species string

// Known species.
const (
	Cat Species = "CAT"
	Dog Species = "DOG"
)

var speciesType = lessweb.Enum("Species", Cat, Dog)

// PetID identifies a pet.
type PetID int

var petIDType = lessweb.Alias[PetID](lessweb.Int)

// Pet is a pet in the store.
type Pet struct {
	ID      PetID      `json:"id" required:"false"`
	Name    string     `json:"name" minLength:"1" maxLength:"40"`
	Species Species    `json:"species" enum:"CAT,DOG"`
	Tags    []string   `json:"tags" maxItems:"5"`
	Born    *time.Time `json:"born"`
	Adopted bool       `json:"adopted,omitempty"`
}

// Store is the in-memory pet repository. It is a process-scope module and
// guards its own state.
type Store struct {
	mu     sync.RWMutex
	pets   map[PetID]Pet
	nextID PetID
	logger *zap.Logger
}

// NewStore builds an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{pets: make(map[PetID]Pet), nextID: 1, logger: logger}
}

// OnStart seeds the store.
func (s *Store) OnStart(context.Context) error {
	s.Add(Pet{Name: "Tom", Species: Cat, Tags: []string{"grumpy"}})
	s.Add(Pet{Name: "Rex", Species: Dog, Tags: []string{"good"}})
	s.logger.Info("store seeded", zap.Int("pets", len(s.pets)))
	return nil
}

// Add stores p under a fresh ID and returns the stored pet.
func (s *Store) Add(p Pet) Pet {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.pets[p.ID] = p
	return p
}

// Get returns the pet with id.
func (s *Store) Get(id PetID) (Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pets[id]
	if !ok {
		return Pet{}, lessweb.Errorf(http.StatusNotFound, "pet %d not found", id)
	}
	return p, nil
}

// Delete removes the pet with id.
func (s *Store) Delete(id PetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pets[id]; !ok {
		return lessweb.Errorf(http.StatusNotFound, "pet %d not found", id)
	}
	delete(s.pets, id)
	return nil
}

// Adopt marks the pet with id as adopted.
func (s *Store) Adopt(id PetID) (Pet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pets[id]
	if !ok {
		return Pet{}, lessweb.Errorf(http.StatusNotFound, "pet %d not found", id)
	}
	if p.Adopted {
		return Pet{}, lessweb.Errorf(http.StatusConflict, "pet %d is already adopted", id)
	}
	p.Adopted = true
	s.pets[id] = p
	return p, nil
}

// Filter selects pets for a listing.
type Filter struct {
	Species   Species
	Tags      []string
	BornAfter time.Time
	Desc      bool
	Limit     int
}

// List returns the pets matching f ordered by ID.
func (s *Store) List(f Filter) []Pet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Pet, 0, len(s.pets))
	for _, p := range s.pets {
		if f.Species != "" && p.Species != f.Species {
			continue
		}
		if !hasTags(p, f.Tags) {
			continue
		}
		if !f.BornAfter.IsZero() && (p.Born == nil || !p.Born.After(f.BornAfter)) {
			continue
		}
		out = append(out, p)
	}

	slices.SortFunc(out, func(a, b Pet) int {
		if f.Desc {
			return cmp.Compare(b.ID, a.ID)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func hasTags(p Pet, tags []string) bool {
	for _, t := range tags {
		if !slices.Contains(p.Tags, t) {
			return false
		}
	}
	return true
}
