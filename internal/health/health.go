// Package health turns noisy liveness observations into stable judgments.
package health

import (
	"time"
)

// Params tune one judgment.
type Params struct {
	Timeout      time.Duration
	HitsToAlive  int
	MissesToDead int
}

// Judgment is hysteresis over one signal. It starts not alive.
type Judgment struct {
	Hits     int
	Misses   int
	Alive    bool
	LastSeen time.Time
	seen     bool
}

func (j *Judgment) Observe(at time.Time) {
	if !j.seen || at.After(j.LastSeen) {
		j.LastSeen = at
	}
	j.seen = true
}

// Check scores one check tick. A dead verdict is withheld while inGrace.
// It reports whether Alive changed.
func (j *Judgment) Check(now time.Time, p Params, inGrace bool) bool {
	within := j.seen && now.Sub(j.LastSeen) <= p.Timeout
	was := j.Alive
	if within {
		j.Hits++
		j.Misses = 0
		if !j.Alive && j.Hits >= p.HitsToAlive {
			j.Alive = true
		}
	} else {
		j.Misses++
		j.Hits = 0
		if j.Alive && j.Misses >= p.MissesToDead && !inGrace {
			j.Alive = false
		}
	}
	return j.Alive != was
}

type Config struct {
	HeartbeatTimeout time.Duration
	StatusTimeout    time.Duration
	GracePeriod      time.Duration
	HitsToAlive      int
	MissesToDead     int
}

// Snapshot is what a display shows.
type Snapshot struct {
	LinkAlive      bool `json:"link_alive"`
	StatusAlive    bool `json:"status_alive"`
	StatusOK       bool `json:"status_ok"`
	ProcessHealthy bool `json:"process_healthy"`
}

// Change names a judgment that flipped on the last check.
type Change struct {
	Signal string
	Alive  bool
}

// Monitor judges the core from two signals: heartbeats (link) and status
// frames (status). It is not safe for concurrent use.
type Monitor struct {
	cfg      Config
	started  time.Time
	link     Judgment
	status   Judgment
	statusOK bool
}

func NewMonitor(cfg Config, started time.Time) *Monitor {
	return &Monitor{cfg: cfg, started: started}
}

func (m *Monitor) ObserveHeartbeat(at time.Time) {
	m.link.Observe(at)
}

// ObserveStatus records a status frame and the core's own health flag.
func (m *Monitor) ObserveStatus(at time.Time, ok bool) {
	m.status.Observe(at)
	m.statusOK = ok
}

func (m *Monitor) InGrace(now time.Time) bool {
	return now.Sub(m.started) < m.cfg.GracePeriod
}

// Check runs one check tick over both signals.
func (m *Monitor) Check(now time.Time) (Snapshot, []Change) {
	grace := m.InGrace(now)
	var changes []Change
	if m.link.Check(now, Params{
		Timeout:      m.cfg.HeartbeatTimeout,
		HitsToAlive:  m.cfg.HitsToAlive,
		MissesToDead: m.cfg.MissesToDead,
	}, grace) {
		changes = append(changes, Change{Signal: "link", Alive: m.link.Alive})
	}
	if m.status.Check(now, Params{
		Timeout:      m.cfg.StatusTimeout,
		HitsToAlive:  m.cfg.HitsToAlive,
		MissesToDead: m.cfg.MissesToDead,
	}, grace) {
		changes = append(changes, Change{Signal: "status", Alive: m.status.Alive})
	}
	return m.Snapshot(), changes
}

func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		LinkAlive:      m.link.Alive,
		StatusAlive:    m.status.Alive,
		StatusOK:       m.statusOK,
		ProcessHealthy: m.link.Alive && m.status.Alive && m.statusOK,
	}
}

// Blinker is the two-phase indicator animation.
type Blinker struct {
	on bool
}

func (b *Blinker) Step() bool {
	b.on = !b.on
	return b.on
}

func (b *Blinker) On() bool {
	return b.on
}
