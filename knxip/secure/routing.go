package secure

import (
	"log"
	"sync"
	"time"

	"github.com/knxtun/knxip/knxnet"
	"github.com/knxtun/knxip/metrics"
)

// TimerRole distinguishes the two roles a node can hold in the group-timer
// synchronisation algorithm for secure routing.
type TimerRole int

const (
	RoleTimeKeeper TimerRole = iota
	RoleTimeFollower
)

func (r TimerRole) String() string {
	if r == RoleTimeFollower {
		return "time-follower"
	}
	return "time-keeper"
}

// keeperNotifyMin is a var, not a const, so tests can shrink the
// time-keeper/time-follower notify cadence instead of waiting out the real
// 10-second interval.
var keeperNotifyMin = 10 * time.Second

// GroupTimer maintains a secure-routing instance's monotonic group timer
// (local_monotonic_ms + offset), the time-keeper/time-follower scheduling
// state, and the backbone-key wrap/unwrap used for both data frames and
// SecureGroupSync messages.
type GroupTimer struct {
	backboneKey [16]byte
	serial      [6]byte
	latency     time.Duration // latency tolerance
	tolerance   time.Duration // sync_tolerance = latency/10

	mu          sync.Mutex
	offsetMS    int64
	role        TimerRole
	synced      bool
	routingCount uint16

	notifyTimer *time.Timer
	reset       chan struct{} // woken whenever notifyTimer is replaced, so loop re-reads it
	stop        chan struct{}
	stopOnce    sync.Once

	send func(frame []byte) error
	now  func() time.Time
}

// NewGroupTimer builds a group timer with the given backbone key, serial
// number, and latency tolerance. send is called with an encoded
// SecureGroupSync frame whenever this node announces or updates. now
// defaults to time.Now if nil (tests may override it).
func NewGroupTimer(key [16]byte, serial [6]byte, latency time.Duration, send func([]byte) error) *GroupTimer {
	if latency <= 0 {
		latency = 1000 * time.Millisecond
	}
	return &GroupTimer{
		backboneKey: key,
		serial:      serial,
		latency:     latency,
		tolerance:   latency / 10,
		role:        RoleTimeKeeper,
		reset:       make(chan struct{}, 1),
		stop:        make(chan struct{}),
		send:        send,
		now:         time.Now,
	}
}

// wake signals loop that notifyTimer was just replaced.
func (g *GroupTimer) wake() {
	select {
	case g.reset <- struct{}{}:
	default:
	}
}

// Local returns the current local group timer value (48-bit, milliseconds).
func (g *GroupTimer) Local() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.localLocked()
}

func (g *GroupTimer) localLocked() uint64 {
	ms := g.now().UnixMilli() + g.offsetMS
	return uint64(ms) & 0xFFFFFFFFFFFF
}

// Synced reports whether the join window has completed.
func (g *GroupTimer) Synced() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.synced
}

// Join starts the synchronisation task: it schedules an immediate group
// sync, then blocks the caller for up to
// 2*latency + 100ms + 12*sync_tolerance or until a sync/update is observed,
// per the join behaviour for secure routing instances.
func (g *GroupTimer) Join() {
	received := make(chan struct{}, 1)
	g.mu.Lock()
	g.offsetMS = 0
	g.mu.Unlock()

	g.scheduleNotify(0)
	go g.loop(received)

	window := 2*g.latency + 100*time.Millisecond + 12*g.tolerance
	select {
	case <-received:
	case <-time.After(window):
	}
	g.mu.Lock()
	g.synced = true
	g.mu.Unlock()
}

// loop runs the periodic time-keeper notification cadence; it is woken
// early by scheduleNotify whenever the role or delay changes.
func (g *GroupTimer) loop(received chan struct{}) {
	for {
		g.mu.Lock()
		timer := g.notifyTimer
		g.mu.Unlock()
		if timer == nil {
			return
		}
		select {
		case <-timer.C:
			g.announce()
			select {
			case received <- struct{}{}:
			default:
			}
			g.mu.Lock()
			if g.role == RoleTimeKeeper {
				delay := jitter(keeperNotifyMin, keeperNotifyMin+3*g.tolerance)
				g.notifyTimer = time.NewTimer(delay)
			} else {
				g.notifyTimer = nil
			}
			g.mu.Unlock()
		case <-g.reset:
			// notifyTimer was replaced by scheduleNotify or a role transition;
			// loop back around to pick up the new one.
		case <-g.stop:
			return
		}
	}
}

func (g *GroupTimer) scheduleNotify(delay time.Duration) {
	g.mu.Lock()
	if g.notifyTimer != nil {
		g.notifyTimer.Stop()
	}
	g.notifyTimer = time.NewTimer(delay)
	g.mu.Unlock()
	g.wake()
}

// NextRoutingCount returns the next value of the monotonic 16-bit
// routing_count and advances it, for tagging an outgoing secure data frame.
func (g *GroupTimer) NextRoutingCount() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	tag := g.routingCount
	g.routingCount++
	return tag
}

func (g *GroupTimer) announce() {
	g.mu.Lock()
	timer := g.localLocked()
	tag := g.routingCount
	g.routingCount++
	g.mu.Unlock()

	plain := knxnet.GroupSync{Timer: timer, Serial: g.serial, Tag: tag}.Encode()
	header := knxnet.EncodeHeader(nil, knxnet.SecureGroupSync, 0)
	ciphertext, mac, err := Wrap(g.backboneKey, timer, g.serial, tag, header, 0, plain)
	if err != nil {
		log.Printf("secure: group sync wrap failed: %v", err)
		return
	}
	wrapper := knxnet.SecureWrapper{SessionID: 0, Sequence: timer, Serial: g.serial, Tag: tag, Payload: ciphertext, MAC: mac}.Encode()
	if g.send != nil {
		if err := g.send(wrapper); err != nil {
			log.Printf("secure: group sync send failed: %v", err)
		}
	}
}

// OnGroupSync processes a received (already unwrapped) GroupSync, applying
// the time-follower update rule.
func (g *GroupTimer) OnGroupSync(remote uint64) {
	g.onRemoteTimer(remote, false)
}

// OnDataFrame processes the timer carried by a received secure data frame,
// returning true if the frame is fresh enough to deliver to listeners.
func (g *GroupTimer) OnDataFrame(remote uint64) (accept bool) {
	g.mu.Lock()
	local := g.localLocked()
	toleranceMS := uint64(g.latency / time.Millisecond)
	g.mu.Unlock()

	if remote+toleranceMS < local {
		return false
	}
	g.onRemoteTimer(remote, true)
	return true
}

func (g *GroupTimer) onRemoteTimer(remote uint64, fromData bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	local := g.localLocked()
	toleranceMS := uint64(g.tolerance / time.Millisecond)

	switch {
	case remote > local:
		g.offsetMS += int64(remote - local)
	case local >= toleranceMS && remote >= local-toleranceMS && remote <= local && g.role == RoleTimeKeeper:
		g.role = RoleTimeFollower
		metrics.Default.GroupTimerRoleTransitions.Inc()
		if g.notifyTimer != nil {
			g.notifyTimer.Stop()
		}
		minFollower := keeperNotifyMin + 3*g.tolerance + g.tolerance
		maxFollower := keeperNotifyMin + 3*g.tolerance + 11*g.tolerance
		g.notifyTimer = time.NewTimer(jitter(minFollower, maxFollower))
		g.wake()
	}
	_ = fromData
}

// Close cancels the synchronisation task. Idempotent.
func (g *GroupTimer) Close() {
	g.stopOnce.Do(func() {
		close(g.stop)
		g.mu.Lock()
		if g.notifyTimer != nil {
			g.notifyTimer.Stop()
		}
		g.mu.Unlock()
	})
}
