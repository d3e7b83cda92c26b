// Package clock implements a monotonic PTS estimator: a clock that
// extrapolates a last-known presentation timestamp forward against wall
// time, can be paused, sped up or slowed down, and goes stale whenever
// the packet queue it is paired with has moved on to a newer generation.
package clock

import (
	"math"
	"sync"
	"time"
)

// SerialRef is a read-only view onto the current serial of the queue a
// Clock is paired with. PacketQueue.SerialRef returns one. Clock never
// sees the queue's mutex or FIFO, only this single integer, so there is
// no pointer aliasing between the two packages.
type SerialRef func() int

// Clock is a monotonic PTS estimator with speed, pause and serial gating.
//
// All fields are protected by mu except queueSerial, which is a borrowed
// read-only func and never written here.
type Clock struct {
	mu sync.Mutex

	pts         float64 // seconds, may be NaN
	ptsDrift    float64
	lastUpdated float64 // wall-clock seconds
	speed       float64
	serial      int
	paused      bool

	queueSerial SerialRef
}

func now() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// New creates a Clock tethered to queueSerial. Pass nil for a clock that
// is never considered stale (used for the external clock, which has no
// paired packet queue).
func New(queueSerial SerialRef) *Clock {
	c := &Clock{speed: 1.0}
	if queueSerial == nil {
		queueSerial = func() int { return c.serial }
	}
	c.queueSerial = queueSerial
	c.SetAt(math.NaN(), -1, now())
	return c
}

// Init (re)seeds the clock as if newly created. Used on Player open and on
// every seek.
func (c *Clock) Init(queueSerial SerialRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if queueSerial != nil {
		c.queueSerial = queueSerial
	}
	c.paused = false
	c.setAtLocked(math.NaN(), -1, now())
}

// Get returns the current estimated PTS in seconds, or NaN if the clock's
// serial no longer matches its queue's current generation.
func (c *Clock) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queueSerial() != c.serial {
		return math.NaN()
	}
	if c.paused {
		return c.pts
	}
	t := now()
	return c.ptsDrift + t - (t-c.lastUpdated)*(1-c.speed)
}

// SetAt sets pts, lastUpdated, ptsDrift = pts - wallTime, and serial.
func (c *Clock) SetAt(pts float64, serial int, wallTime float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAtLocked(pts, serial, wallTime)
}

func (c *Clock) setAtLocked(pts float64, serial int, wallTime float64) {
	c.pts = pts
	c.lastUpdated = wallTime
	c.ptsDrift = pts - wallTime
	c.serial = serial
}

// Set is SetAt using the current wall time.
func (c *Clock) Set(pts float64, serial int) {
	c.SetAt(pts, serial, now())
}

// SetSpeed freezes the current readout, then changes the speed, so that
// time stays continuous across the change.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	cur := c.getLocked()
	c.setAtLocked(cur, c.serial, now())
	c.speed = speed
	c.mu.Unlock()
}

func (c *Clock) getLocked() float64 {
	if c.queueSerial() != c.serial {
		return math.NaN()
	}
	if c.paused {
		return c.pts
	}
	t := now()
	return c.ptsDrift + t - (t-c.lastUpdated)*(1-c.speed)
}

// Speed returns the current playback speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// LastUpdated returns the wall-clock time (seconds) this clock's pts was
// last set, for callers rebasing their own timers across a pause.
func (c *Clock) LastUpdated() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// Serial returns the generation this clock last observed.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// SetPaused freezes (true) or resumes (false) the clock's readout.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paused == c.paused {
		return
	}
	t := now()
	if paused {
		// Freeze at the currently extrapolated value.
		c.pts = c.getLocked()
	} else {
		// Resume from the frozen value, so the paused span is not counted.
		c.ptsDrift = c.pts - t
	}
	c.lastUpdated = t
	c.paused = paused
}

// Paused reports whether the clock is currently frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SyncToSlave tethers this clock (typically the external clock) to a
// slave (typically the active stream's clock): if the slave is valid and
// either this clock is invalid or the two have drifted by more than
// noSyncThreshold, adopt the slave's value and serial.
func (c *Clock) SyncToSlave(slave *Clock, noSyncThreshold float64) {
	myVal := c.Get()
	slaveVal := slave.Get()
	if !math.IsNaN(slaveVal) && (math.IsNaN(myVal) || math.Abs(myVal-slaveVal) > noSyncThreshold) {
		slave.mu.Lock()
		serial := slave.serial
		slave.mu.Unlock()
		// Adopt the slave's live readout (not its possibly-stale raw pts
		// field) and serial, at the current wall time.
		c.Set(slaveVal, serial)
	}
}
