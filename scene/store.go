// Package scene implements the scene/bookmark store: per-node, user-editable
// lists of labeled frame ranges used for navigation and annotation.
//
// The store is a pure data structure. All operations are synchronous and
// run in the calling tick; expected list sizes are hundreds of scenes, so
// linear insertion against a sorted slice is acceptable.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/moviola-io/moviola/types"
)

// DefaultList is the list scenes land in when none was created explicitly.
const DefaultList = "Scene List 1"

// ErrNoOpenRange is returned by ExtendTo when no range was opened.
var ErrNoOpenRange = errors.New("no open range to extend")

// ErrNoSuchList is returned when selecting or removing an unknown list.
var ErrNoSuchList = errors.New("no such scene list")

// ErrInvalidRange is returned for a scene with end before start.
var ErrInvalidRange = errors.New("scene end precedes start")

// Store holds scene lists for every node. Scenes are never created
// implicitly by playback; every mutation is an explicit user action.
type Store struct {
	mu sync.Mutex

	// lists: node -> list name -> scenes ordered by start frame.
	lists map[types.NodeID]map[string][]types.Scene
	// selected is the active list per node; operations target it.
	selected map[types.NodeID]string
	// open is the pending range start per node, if any.
	open map[types.NodeID]int
}

// NewStore creates an empty scene store.
func NewStore() *Store {
	return &Store{
		lists:    make(map[types.NodeID]map[string][]types.Scene),
		selected: make(map[types.NodeID]string),
		open:     make(map[types.NodeID]int),
	}
}

// SelectedList returns the active list name for node.
func (s *Store) SelectedList(node types.NodeID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked(node)
}

func (s *Store) selectedLocked(node types.NodeID) string {
	if name, ok := s.selected[node]; ok {
		return name
	}
	return DefaultList
}

// SelectList switches the active list for node. The list must exist
// (DefaultList always does).
func (s *Store) SelectList(node types.NodeID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != DefaultList {
		if _, ok := s.lists[node][name]; !ok {
			return fmt.Errorf("%w: %q", ErrNoSuchList, name)
		}
	}
	s.selected[node] = name
	return nil
}

// CreateList adds an empty named list for node and selects it.
func (s *Store) CreateList(node types.NodeID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lists[node] == nil {
		s.lists[node] = make(map[string][]types.Scene)
	}
	if _, ok := s.lists[node][name]; !ok {
		s.lists[node][name] = nil
	}
	s.selected[node] = name
}

// Lists returns the list names for node, sorted, always including
// DefaultList.
func (s *Store) Lists(node types.NodeID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{DefaultList}
	for name := range s.lists[node] {
		if name != DefaultList {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AddSingle adds a single-frame scene to the active list.
func (s *Store) AddSingle(node types.NodeID, frame int, label string) types.Scene {
	sc, _ := s.AddRange(node, frame, frame, label)
	return sc
}

// AddRange adds a range scene to the active list, keeping the list
// ordered by start frame.
func (s *Store) AddRange(node types.NodeID, start, end int, label string) (types.Scene, error) {
	if end < start {
		return types.Scene{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sc := types.Scene{
		Node:  node,
		List:  s.selectedLocked(node),
		Start: start,
		End:   end,
		Label: label,
	}
	s.insertLocked(sc)
	return sc, nil
}

func (s *Store) insertLocked(sc types.Scene) {
	if s.lists[sc.Node] == nil {
		s.lists[sc.Node] = make(map[string][]types.Scene)
	}
	list := s.lists[sc.Node][sc.List]
	i := sort.Search(len(list), func(i int) bool { return list[i].Start > sc.Start })
	list = append(list, types.Scene{})
	copy(list[i+1:], list[i:])
	list[i] = sc
	s.lists[sc.Node][sc.List] = list
}

// Open marks the start of a range at frame. A subsequent ExtendTo closes
// it into a scene. Opening again moves the mark.
func (s *Store) Open(node types.NodeID, frame int) {
	s.mu.Lock()
	s.open[node] = frame
	s.mu.Unlock()
}

// OpenMark returns the pending range start for node, if any.
func (s *Store) OpenMark(node types.NodeID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, ok := s.open[node]
	return frame, ok
}

// Discard drops the pending range mark for node, if any.
func (s *Store) Discard(node types.NodeID) {
	s.mu.Lock()
	delete(s.open, node)
	s.mu.Unlock()
}

// ExtendTo closes the open range at the current frame, creating a scene
// spanning both marks in either order.
func (s *Store) ExtendTo(node types.NodeID, frame int, label string) (types.Scene, error) {
	s.mu.Lock()
	start, ok := s.open[node]
	if !ok {
		s.mu.Unlock()
		return types.Scene{}, ErrNoOpenRange
	}
	delete(s.open, node)
	s.mu.Unlock()

	if frame < start {
		start, frame = frame, start
	}
	return s.AddRange(node, start, frame, label)
}

// RemoveAt deletes the first scene containing frame from the active list.
// Returns false when no scene contains the frame.
func (s *Store) RemoveAt(node types.NodeID, frame int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.selectedLocked(node)
	list := s.lists[node][name]
	for i := range list {
		if list[i].Contains(frame) {
			s.lists[node][name] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Next returns the start of the first scene after frame in the active
// list, or false when none exists.
func (s *Store) Next(node types.NodeID, frame int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[node][s.selectedLocked(node)]
	for i := range list {
		if list[i].Start > frame {
			return list[i].Start, true
		}
	}
	return 0, false
}

// Previous returns the start of the last scene before frame in the active
// list, or false when none exists.
func (s *Store) Previous(node types.NodeID, frame int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[node][s.selectedLocked(node)]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Start < frame {
			return list[i].Start, true
		}
	}
	return 0, false
}

// Scenes returns a copy of the named list for node.
func (s *Store) Scenes(node types.NodeID, name string) []types.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[node][name]
	out := make([]types.Scene, len(list))
	copy(out, list)
	return out
}

// All returns every scene across nodes and lists, ordered by node, list,
// then start frame. Used by session persistence.
func (s *Store) All() []types.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []types.Scene
	for node := range s.lists {
		for _, list := range s.lists[node] {
			all = append(all, list...)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Node != all[j].Node {
			return all[i].Node < all[j].Node
		}
		if all[i].List != all[j].List {
			return all[i].List < all[j].List
		}
		return all[i].Start < all[j].Start
	})
	return all
}

// Restore inserts a persisted scene directly into its recorded list,
// creating the list as needed. Selection state is not touched.
func (s *Store) Restore(sc types.Scene) error {
	if sc.End < sc.Start {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, sc.Start, sc.End)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(sc)
	return nil
}
