package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fissionlink/internal/core"
	"github.com/fissionlink/internal/protocol"
	"github.com/fissionlink/internal/testutil"
	"github.com/fissionlink/internal/transport"
)

type rig struct {
	bus    *transport.MemBus
	plant  *core.SimPlant
	runner *Runner
	chans  protocol.Channels
}

func newRig(t *testing.T, faults transport.Faults, timeout time.Duration) *rig {
	t.Helper()
	chans := protocol.DefaultChannels()
	bus := transport.NewMemBus(7, faults)
	plant := core.NewSimPlant()
	log := testutil.Logger(t)

	node := core.NewNode(core.Options{
		NodeID:          "core",
		Channels:        chans,
		PollPeriod:      10 * time.Millisecond,
		HeartbeatPeriod: 50 * time.Millisecond,
		DedupWindow:     256,
		Thresholds:      core.DefaultThresholds(),
	}, bus.Endpoint("core", 1024), plant, plant, log)

	runner := NewRunner(RunnerOptions{
		NodeID:         "console",
		Channels:       chans,
		RetryPeriod:    20 * time.Millisecond,
		PendingTimeout: timeout,
	}, bus.Endpoint("console", 1024), log)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = node.Run(ctx) }()
	go func() { defer wg.Done(); _ = runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return &rig{bus: bus, plant: plant, runner: runner, chans: chans}
}

func issue(t *testing.T, r *Runner, req Request) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Issue(ctx, req)
	if err != nil {
		t.Fatalf("issue %s: %v", req.Kind, err)
	}
	return res
}

func TestRunnerPowerOnConfirms(t *testing.T) {
	rg := newRig(t, transport.Faults{}, 2*time.Second)
	res := issue(t, rg.runner, PowerOn())
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Outcome)
	}
	res = issue(t, rg.runner, PowerOn())
	if res.Outcome != OutcomeAlreadySatisfied {
		t.Fatalf("second power_on: expected already satisfied, got %s", res.Outcome)
	}
}

func TestRunnerTimesOutWhenCoreUnreachable(t *testing.T) {
	rg := newRig(t, transport.Faults{
		Drop: func(to string, f transport.Frame) bool { return to == "core" },
	}, 150*time.Millisecond)
	res := issue(t, rg.runner, Scram())
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", res.Outcome)
	}
}

func TestRunnerSupersededLevelFollowsReplacement(t *testing.T) {
	rg := newRig(t, transport.Faults{
		// Hold the core deaf long enough for both level commands to queue.
		Drop: func(to string, f transport.Frame) bool { return to == "core" },
	}, 3*time.Second)

	first := make(chan Result, 1)
	go func() {
		res, _ := rg.runner.Issue(context.Background(), SetLevel(1))
		first <- res
	}()
	time.Sleep(50 * time.Millisecond)

	second := make(chan Result, 1)
	go func() {
		res, _ := rg.runner.Issue(context.Background(), SetLevel(6))
		second <- res
	}()
	time.Sleep(50 * time.Millisecond)
	rg.bus.SetFaults(transport.Faults{})

	a := testutil.RequireReceive(t, first, 5*time.Second, "first level")
	b := testutil.RequireReceive(t, second, 5*time.Second, "second level")
	if a.Outcome != OutcomeConfirmed || b.Outcome != OutcomeConfirmed {
		t.Fatalf("outcomes %s / %s", a.Outcome, b.Outcome)
	}
	if a.Command.ID != b.Command.ID || *a.Command.Level != 6 {
		t.Fatalf("superseded command should resolve with its replacement: %+v", a.Command)
	}
}

func TestRunnerOverLossyBus(t *testing.T) {
	rg := newRig(t, transport.Faults{
		DropRate:      0.4,
		DuplicateRate: 0.3,
		ReorderRate:   0.3,
	}, 5*time.Second)

	for _, req := range []Request{SetLevel(4), PowerOn(), Scram(), ClearScram()} {
		res := issue(t, rg.runner, req)
		if res.Outcome != OutcomeConfirmed {
			t.Fatalf("%s: outcome %s", req.Kind, res.Outcome)
		}
	}

	// Duplicated power_on frames from before the scram must not restart the
	// reactor once the latch is cleared.
	rg.bus.SetFaults(transport.Faults{})
	rg.bus.Flush()
	time.Sleep(100 * time.Millisecond)
	rg.runner.RequestStatus()
	st := testutil.RequireReceive(t, rg.runner.Updates(), 2*time.Second, "status after clear")
	if st.PoweredOn || st.ScramLatched {
		t.Fatalf("unexpected final state %+v", st)
	}
	if rate, en := rg.plant.Commanded(); rate != 0 || en {
		t.Fatalf("plant still driven: rate=%v enabled=%t", rate, en)
	}
}

func TestRunnerLevelWhileLatched(t *testing.T) {
	rg := newRig(t, transport.Faults{}, 2*time.Second)
	if res := issue(t, rg.runner, Scram()); res.Outcome != OutcomeConfirmed {
		t.Fatalf("scram: %s", res.Outcome)
	}
	if res := issue(t, rg.runner, SetLevel(3)); res.Outcome != OutcomeConfirmed {
		t.Fatalf("level while latched: %s", res.Outcome)
	}
	if res := issue(t, rg.runner, PowerOn()); res.Outcome != OutcomeTimeout {
		t.Fatalf("power_on while latched should never confirm, got %s", res.Outcome)
	}
}

func TestRunnerCoolantAutoTrip(t *testing.T) {
	rg := newRig(t, transport.Faults{}, 2*time.Second)
	issue(t, rg.runner, SetLevel(5))
	if res := issue(t, rg.runner, PowerOn()); res.Outcome != OutcomeConfirmed {
		t.Fatalf("power_on: %s", res.Outcome)
	}
	rg.plant.Update(func(s *protocol.SensorSnapshot) { s.CoolantFrac = 0.05 })

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := testutil.RequireReceive(t, rg.runner.Updates(), time.Second, "status")
		if st.ScramLatched {
			if st.TripCause != protocol.TripCoolant || st.PoweredOn {
				t.Fatalf("unexpected trip state %+v", st)
			}
			return
		}
	}
	t.Fatalf("coolant interlock never tripped")
}

func TestRunnerIssueAfterStop(t *testing.T) {
	chans := protocol.DefaultChannels()
	bus := transport.NewMemBus(1, transport.Faults{})
	r := NewRunner(RunnerOptions{
		NodeID:         "console",
		Channels:       chans,
		RetryPeriod:    10 * time.Millisecond,
		PendingTimeout: time.Second,
	}, bus.Endpoint("console", 16), testutil.Logger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	testutil.RequireReceive(t, done, time.Second, "runner exit")

	if _, err := r.Issue(context.Background(), PowerOn()); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
