// Package playback drives continuous frame advancement for output nodes.
//
// The scheduler is tick-driven from a single cooperative control context:
// commands (play, pause, seek, step) and Tick are expected from that one
// goroutine, while fetch completions resolve on dispatcher workers and are
// only ever observed by polling handles inside Tick. Display callbacks
// therefore always run on the control context, never on a worker.
//
// A late fetch never stalls the session: the display holds the last shown
// frame and the scheduler keeps issuing requests. Sustained backend
// slowness is absorbed by dropping frames up to a configurable threshold
// per tick so the backlog stays bounded.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/registry"
	"github.com/moviola-io/moviola/types"
)

// State is the scheduler state for one node.
type State int

const (
	// StatePaused means no automatic advancement.
	StatePaused State = iota
	// StatePlaying means continuous advancement at the target rate.
	StatePlaying
	// StateStepping is the transient state of a jump-by-n operation.
	StateStepping
	// StateSeeking is the transient state while the frame for a manual
	// seek is still in flight.
	StateSeeking
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateStepping:
		return "stepping"
	case StateSeeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// DefaultReadAhead is the prefetch window issued beyond the target frame.
const DefaultReadAhead = 8

// DefaultDropThreshold caps frames skipped per tick to catch up after a
// stall. The exact value is a tuning parameter, not a contract.
const DefaultDropThreshold = 4

// DefaultNominalFPS paces nodes that report no usable rate.
var DefaultNominalFPS = types.Rational{Num: 24, Den: 1}

// Config configures a Scheduler.
type Config struct {
	// ReadAhead is the number of frames requested beyond the target each
	// advancement. Defaults to DefaultReadAhead.
	ReadAhead int
	// DropThreshold caps extra frames skipped per tick to catch up.
	// Defaults to DefaultDropThreshold.
	DropThreshold int
	// NominalFPS is the pacing fallback for rateless nodes.
	NominalFPS types.Rational
	// Logger is optional.
	Logger *log.Logger
}

// Events are the scheduler's outward callbacks. All are invoked from the
// control context (inside Tick or a command), never from a worker, so a
// display surface may be updated directly. Nil callbacks are skipped.
type Events struct {
	// OnDisplay fires when a node's target frame resolved and became
	// the displayed frame.
	OnDisplay func(node types.NodeID, frame *types.CachedFrame)
	// OnFrameError fires when the backend failed to decode the target
	// frame. The error is local to that frame; playback continues.
	OnFrameError func(node types.NodeID, index int, err error)
	// OnStateChange fires on every state transition.
	OnStateChange func(node types.NodeID, state State)
}

// nodePlayback is the per-node runtime of the scheduler.
type nodePlayback struct {
	state State
	// target is the frame index the scheduler wants displayed next.
	target int
	// awaiting resolves with the target frame, nil when none in flight.
	awaiting *dispatch.Handle
	// due is when the next advancement is scheduled while playing.
	due time.Time
	// displayedProps holds the last displayed frame's properties for
	// variable-rate pacing.
	displayedProps types.FrameProps
}

// Scheduler owns playback state machines for every node and translates
// them into prioritized dispatcher requests.
type Scheduler struct {
	reg    *registry.Registry
	disp   *dispatch.Dispatcher
	sync   *Coordinator
	events Events
	logger *log.Logger

	readAhead     int
	dropThreshold int
	nominalFPS    types.Rational

	mu    sync.Mutex
	nodes map[types.NodeID]*nodePlayback
}

// NewScheduler creates a scheduler. The coordinator may be nil when sync
// is not used.
func NewScheduler(reg *registry.Registry, disp *dispatch.Dispatcher, coord *Coordinator, events Events, cfg Config) *Scheduler {
	readAhead := cfg.ReadAhead
	if readAhead <= 0 {
		readAhead = DefaultReadAhead
	}
	dropThreshold := cfg.DropThreshold
	if dropThreshold <= 0 {
		dropThreshold = DefaultDropThreshold
	}
	nominal := cfg.NominalFPS
	if nominal.IsZero() {
		nominal = DefaultNominalFPS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		reg:           reg,
		disp:          disp,
		sync:          coord,
		events:        events,
		logger:        logger,
		readAhead:     readAhead,
		dropThreshold: dropThreshold,
		nominalFPS:    nominal,
		nodes:         make(map[types.NodeID]*nodePlayback),
	}
}

func (s *Scheduler) playbackFor(id types.NodeID) *nodePlayback {
	pb, ok := s.nodes[id]
	if !ok {
		pb = &nodePlayback{state: StatePaused, target: s.reg.CurrentFrame(id)}
		s.nodes[id] = pb
	}
	return pb
}

func (s *Scheduler) setState(id types.NodeID, pb *nodePlayback, state State) {
	if pb.state == state {
		return
	}
	pb.state = state
	if s.events.OnStateChange != nil {
		s.events.OnStateChange(id, state)
	}
}

// State returns the scheduler state for a node.
func (s *Scheduler) State(id types.NodeID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackFor(id).state
}

// Play starts continuous advancement for a node at its configured rate.
func (s *Scheduler) Play(id types.NodeID, now time.Time) error {
	node, ok := s.reg.Node(id)
	if !ok {
		return registry.ErrUnknownNode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pb := s.playbackFor(id)
	if pb.state == StatePlaying {
		return nil
	}
	_ = s.reg.UpdateState(id, func(st *types.PlaybackState) { st.Playing = true })

	pb.target = s.reg.CurrentFrame(id)
	pb.due = now.Add(s.intervalFor(id, &node, pb))
	s.issueTarget(id, pb)
	s.setState(id, pb, StatePlaying)
	return nil
}

// Pause stops advancement, keeping the current frame displayed.
func (s *Scheduler) Pause(id types.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pb := s.playbackFor(id)
	_ = s.reg.UpdateState(id, func(st *types.PlaybackState) { st.Playing = false })
	s.setState(id, pb, StatePaused)
}

// TogglePlay flips between playing and paused.
func (s *Scheduler) TogglePlay(id types.NodeID, now time.Time) error {
	if s.State(id) == StatePlaying {
		s.Pause(id)
		return nil
	}
	return s.Play(id, now)
}

// Seek moves a node to idx (clamped), at display priority, dropping
// queued prefetch that fell outside the new read-ahead window. While the
// frame is in flight the node is in StateSeeking; playback cadence is
// preserved if the node was playing.
func (s *Scheduler) Seek(id types.NodeID, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekLocked(id, idx, true)
}

// Step jumps by the node's configured step size times dir (±1).
func (s *Scheduler) Step(id types.NodeID, dir int) error {
	state, ok := s.reg.State(id)
	if !ok {
		return registry.ErrUnknownNode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pb := s.playbackFor(id)
	s.setState(id, pb, StateStepping)
	return s.seekLocked(id, pb.target+dir*state.Step(), true)
}

// StepBy jumps by exactly n frames, ignoring the configured step size.
func (s *Scheduler) StepBy(id types.NodeID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pb := s.playbackFor(id)
	s.setState(id, pb, StateStepping)
	return s.seekLocked(id, pb.target+n, true)
}

// SeekStart seeks to the first frame.
func (s *Scheduler) SeekStart(id types.NodeID) error {
	return s.Seek(id, 0)
}

// SeekEnd seeks to the last frame.
func (s *Scheduler) SeekEnd(id types.NodeID) error {
	node, ok := s.reg.Node(id)
	if !ok {
		return registry.ErrUnknownNode
	}
	return s.Seek(id, node.LastFrame())
}

// seekLocked is the common seek path. Caller must hold mu.
func (s *Scheduler) seekLocked(id types.NodeID, idx int, applySync bool) error {
	node, ok := s.reg.Node(id)
	if !ok {
		return registry.ErrUnknownNode
	}

	pb := s.playbackFor(id)
	old := pb.target
	idx = node.ClampFrame(idx)
	pb.target = idx

	// Queued prefetch outside the new window is dead weight; drop it.
	// Dispatched requests are left to complete into the cache.
	lo, hi := idx, idx+s.readAhead
	s.disp.CancelQueued(func(key types.FrameKey, pri dispatch.Priority) bool {
		return key.Node == id && pri != dispatch.PriorityDisplay && (key.Index < lo || key.Index > hi)
	})

	s.issueTarget(id, pb)
	if pb.state == StatePaused {
		s.setState(id, pb, StateSeeking)
	}

	if applySync && s.sync != nil && idx != old {
		s.applySyncLocked(id, idx-old)
	}
	return nil
}

// applySyncLocked propagates a frame delta to the other members of the
// origin's sync group. Each member clamps independently. Caller holds mu.
func (s *Scheduler) applySyncLocked(origin types.NodeID, delta int) {
	if !s.sync.Enabled() {
		return
	}
	for _, member := range s.sync.Members(origin) {
		if member == origin {
			continue
		}
		pb := s.playbackFor(member)
		node, ok := s.reg.Node(member)
		if !ok {
			continue
		}
		pb.target = node.ClampFrame(pb.target + delta)
		// Warm the member's frame; it is not the display target.
		s.requestWindow(member, pb.target, 1)
		if _, err := s.reg.SetCurrentFrame(member, pb.target); err == nil && s.events.OnDisplay != nil {
			if frame, ok := s.fetchCached(member, pb.target); ok {
				s.events.OnDisplay(member, frame)
			}
		}
	}
}

func (s *Scheduler) fetchCached(id types.NodeID, idx int) (*types.CachedFrame, bool) {
	h := s.disp.Request(s.reg.Key(id, idx), dispatch.PriorityPrefetch)
	select {
	case res := <-h.Done():
		if res.Err == nil {
			return res.Frame, true
		}
	default:
	}
	return nil, false
}

// issueTarget requests the target frame at display priority plus the
// read-ahead window behind it, and installs the awaited handle.
func (s *Scheduler) issueTarget(id types.NodeID, pb *nodePlayback) {
	pb.awaiting = s.disp.Request(s.reg.Key(id, pb.target), dispatch.PriorityDisplay)
	s.requestWindow(id, pb.target+1, s.readAhead)
}

// requestWindow issues prefetch for [from, from+count) clamped to the
// node. The near half of the window is prefetch priority, the rest far
// read-ahead.
func (s *Scheduler) requestWindow(id types.NodeID, from, count int) {
	node, ok := s.reg.Node(id)
	if !ok {
		return
	}
	near := from + count/2
	for idx := from; idx < from+count; idx++ {
		if idx < 0 || idx > node.LastFrame() {
			break
		}
		pri := dispatch.PriorityPrefetch
		if idx >= near {
			pri = dispatch.PriorityReadAhead
		}
		_ = s.disp.Request(s.reg.Key(id, idx), pri)
	}
}

// intervalFor derives the pacing interval for a node: per-frame duration
// props in variable-rate mode, the configured override or native rate
// otherwise, with the nominal fallback throughout.
func (s *Scheduler) intervalFor(id types.NodeID, node *types.OutputNode, pb *nodePlayback) time.Duration {
	state, ok := s.reg.State(id)
	if !ok {
		return s.nominalFPS.FrameInterval()
	}
	if state.Variable {
		if dur := pb.displayedProps.Duration(); !dur.IsZero() {
			// Duration props are seconds-per-frame, the inverse of a
			// rate.
			return types.Rational{Num: dur.Den, Den: dur.Num}.FrameInterval()
		}
	}
	fps := state.EffectiveFPS(node)
	if fps.IsZero() {
		fps = s.nominalFPS
	}
	return fps.FrameInterval()
}

// Tick advances the scheduler. Call it from the control context, passing
// the current time; it polls awaited frames without blocking, displays
// what resolved, and performs due advancements. Returns the suggested
// wait before the next tick.
func (s *Scheduler) Tick(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := 50 * time.Millisecond
	for id, pb := range s.nodes {
		if w := s.tickNode(id, pb, now); w < wait {
			wait = w
		}
	}
	return wait
}

func (s *Scheduler) tickNode(id types.NodeID, pb *nodePlayback, now time.Time) time.Duration {
	node, ok := s.reg.Node(id)
	if !ok {
		return time.Hour
	}
	state, _ := s.reg.State(id)

	s.pollAwaiting(id, pb)

	switch pb.state {
	case StatePlaying:
		if state.Unlimited {
			// No pacing: advance as soon as the current frame is
			// displayed.
			if pb.awaiting == nil {
				s.advanceLocked(id, &node, pb, 1)
			}
			return 0
		}
		if !now.Before(pb.due) {
			interval := s.intervalFor(id, &node, pb)
			steps := 1
			if interval > 0 {
				// Catch up on missed intervals by dropping frames,
				// bounded so a long stall cannot trigger a huge jump.
				late := int(now.Sub(pb.due) / interval)
				if late > s.dropThreshold {
					late = s.dropThreshold
				}
				steps += late
			}
			s.advanceLocked(id, &node, pb, steps)
			pb.due = pb.due.Add(time.Duration(steps) * interval)
			if pb.due.Before(now) {
				// Beyond the drop budget; resynchronize the cadence.
				pb.due = now.Add(interval)
			}
		}
		return time.Until(pb.due)
	case StateSeeking, StateStepping:
		if pb.awaiting == nil {
			s.setState(id, pb, StatePaused)
		}
		return 5 * time.Millisecond
	default:
		return 50 * time.Millisecond
	}
}

// pollAwaiting checks the awaited handle without blocking and displays
// the frame if it resolved.
func (s *Scheduler) pollAwaiting(id types.NodeID, pb *nodePlayback) {
	if pb.awaiting == nil {
		return
	}
	select {
	case res := <-pb.awaiting.Done():
		awaited := pb.awaiting
		pb.awaiting = nil
		switch {
		case res.Err == nil:
			if awaited.Key.Index == pb.target {
				s.display(id, pb, res.Frame)
			}
			// A resolution for a superseded target is ignored; the
			// frame is already cached for later.
		case errors.Is(res.Err, dispatch.ErrStaleGeneration),
			errors.Is(res.Err, dispatch.ErrRequestCanceled):
			// Dropped silently; a reload or re-seek already superseded
			// this frame.
		default:
			if s.events.OnFrameError != nil {
				s.events.OnFrameError(id, awaited.Key.Index, res.Err)
			}
		}
	default:
		// Not resolved yet: hold the last shown frame, never block.
	}
}

// display commits a resolved frame as the node's displayed frame.
func (s *Scheduler) display(id types.NodeID, pb *nodePlayback, frame *types.CachedFrame) {
	pb.displayedProps = frame.Props
	if _, err := s.reg.SetCurrentFrame(id, frame.Key.Index); err != nil {
		return
	}
	if s.events.OnDisplay != nil {
		s.events.OnDisplay(id, frame)
	}
}

// advanceLocked moves the playback target forward by steps, handling clip
// bounds, and issues the fetches. Caller must hold mu.
func (s *Scheduler) advanceLocked(id types.NodeID, node *types.OutputNode, pb *nodePlayback, steps int) {
	state, _ := s.reg.State(id)
	next := pb.target + steps

	if next > node.LastFrame() {
		if state.Loop {
			next = 0
		} else {
			pb.target = node.LastFrame()
			_ = s.reg.UpdateState(id, func(st *types.PlaybackState) { st.Playing = false })
			s.setState(id, pb, StatePaused)
			return
		}
	}

	old := pb.target
	pb.target = next
	s.issueTarget(id, pb)
	if s.sync != nil && next != old {
		s.applySyncLocked(id, next-old)
	}
}
