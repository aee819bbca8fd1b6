package health

import (
	"testing"
	"time"
)

var t0 = time.Unix(1_700_000_000, 0)

func params() Params {
	return Params{Timeout: 2 * time.Second, HitsToAlive: 2, MissesToDead: 3}
}

func TestJudgmentStartsDead(t *testing.T) {
	var j Judgment
	if j.Check(t0, params(), false) || j.Alive {
		t.Fatalf("never-seen signal judged alive")
	}
}

func TestJudgmentNeedsConsecutiveHits(t *testing.T) {
	var j Judgment
	p := params()
	j.Observe(t0)
	if j.Check(t0.Add(time.Second), p, false) {
		t.Fatalf("alive after one hit")
	}
	if !j.Check(t0.Add(1500*time.Millisecond), p, false) || !j.Alive {
		t.Fatalf("expected alive after two hits")
	}
}

func TestJudgmentNoFlap(t *testing.T) {
	var j Judgment
	p := params()
	now := t0
	step := 500 * time.Millisecond
	for i := 0; i < 4; i++ {
		j.Observe(now)
		now = now.Add(step)
		j.Check(now, p, false)
	}
	if !j.Alive {
		t.Fatalf("setup: expected alive")
	}

	// Alternate single misses and hits: never MissesToDead in a row.
	last := now
	for i := 0; i < 20; i++ {
		now = now.Add(3 * time.Second)
		if i%2 == 0 {
			j.Observe(now)
			last = now
		}
		if j.Check(now, p, false) {
			t.Fatalf("flipped on tick %d (last seen %v ago)", i, now.Sub(last))
		}
	}
	if !j.Alive {
		t.Fatalf("single misses must not kill the judgment")
	}
}

func TestJudgmentDiesAfterMisses(t *testing.T) {
	var j Judgment
	p := params()
	j.Observe(t0)
	j.Check(t0, p, false)
	j.Check(t0, p, false)
	for i := 1; i <= 2; i++ {
		if j.Check(t0.Add(time.Duration(i)*10*time.Second), p, false) {
			t.Fatalf("died after %d misses", i)
		}
	}
	if !j.Check(t0.Add(30*time.Second), p, false) || j.Alive {
		t.Fatalf("expected dead after three misses")
	}
}

func TestGraceWithholdsDead(t *testing.T) {
	var j Judgment
	p := params()
	j.Observe(t0)
	j.Check(t0, p, true)
	j.Check(t0, p, true)
	for i := 1; i <= 5; i++ {
		j.Check(t0.Add(time.Duration(i)*10*time.Second), p, true)
	}
	if !j.Alive {
		t.Fatalf("judged dead during grace")
	}
	if !j.Check(t0.Add(time.Minute), p, false) || j.Alive {
		t.Fatalf("expected dead once grace ends")
	}
}

func TestOutOfOrderObservationKeepsNewest(t *testing.T) {
	var j Judgment
	j.Observe(t0.Add(5 * time.Second))
	j.Observe(t0)
	if !j.LastSeen.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("older observation replaced newer: %v", j.LastSeen)
	}
}

func newMonitor() *Monitor {
	return NewMonitor(Config{
		HeartbeatTimeout: 2 * time.Second,
		StatusTimeout:    2 * time.Second,
		GracePeriod:      5 * time.Second,
		HitsToAlive:      2,
		MissesToDead:     2,
	}, t0)
}

func TestProcessHealthyNeedsBothSignalsAndStatusOK(t *testing.T) {
	m := newMonitor()
	now := t0
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		m.ObserveHeartbeat(now)
		m.ObserveStatus(now, false)
		m.Check(now)
	}
	snap := m.Snapshot()
	if !snap.LinkAlive || !snap.StatusAlive || snap.ProcessHealthy {
		t.Fatalf("status_ok=false must keep process unhealthy: %+v", snap)
	}

	now = now.Add(time.Second)
	m.ObserveHeartbeat(now)
	m.ObserveStatus(now, true)
	snap, _ = m.Check(now)
	if !snap.ProcessHealthy {
		t.Fatalf("expected healthy: %+v", snap)
	}
}

func TestNeverHealthyWhileLinkDown(t *testing.T) {
	m := newMonitor()
	now := t0
	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		m.ObserveStatus(now, true)
		snap, _ := m.Check(now)
		if snap.ProcessHealthy || snap.LinkAlive {
			t.Fatalf("healthy without heartbeats at tick %d: %+v", i, snap)
		}
	}
}

func TestMonitorReportsChanges(t *testing.T) {
	m := newMonitor()
	now := t0
	var flips []Change
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		m.ObserveHeartbeat(now)
		_, ch := m.Check(now)
		flips = append(flips, ch...)
	}
	if len(flips) != 1 || flips[0].Signal != "link" || !flips[0].Alive {
		t.Fatalf("unexpected changes %+v", flips)
	}

	// Heartbeats stop after grace.
	now = now.Add(10 * time.Second)
	m.Check(now)
	now = now.Add(time.Second)
	_, ch := m.Check(now)
	if len(ch) != 1 || ch[0].Alive {
		t.Fatalf("expected link to die, got %+v", ch)
	}
}

func TestBlinker(t *testing.T) {
	var b Blinker
	first := b.Step()
	second := b.Step()
	if first == second || b.On() != second {
		t.Fatalf("blinker did not alternate")
	}
}
