package e2eemulated

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tacticsim/spawngate/internal/formation"
	"github.com/tacticsim/spawngate/internal/loadsource"
	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/internal/metrics"
	"github.com/tacticsim/spawngate/internal/sim"
	"github.com/tacticsim/spawngate/pkg/spawn/scheduler"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

const layoutYAML = `
groups:
  - id: attacker
    slotCount: 32
    spacing: 1.5
    rankWidth: 8
  - id: defender
    slotCount: 32
    originY: 100
    spacing: 1.5
    rankWidth: 8
`

// The emulated suite runs the whole stack in-process: parsed formation
// layout, synthetic load signal, simulated executor, real scheduler loop
// and metrics registry. No external infrastructure is required.
var _ = Describe("Spawngate emulated end-to-end", func() {
	var (
		sched  *scheduler.Scheduler
		load   *loadsource.StaticSignal
		runErr chan error
		cancel context.CancelFunc
	)

	startStack := func(failureRate float64) {
		layout, err := formation.ParseLayout([]byte(layoutYAML))
		Expect(err).NotTo(HaveOccurred())

		load = loadsource.NewStaticSignal(0.1)
		sched, err = scheduler.New(scheduler.Config{
			QueueMaxLen:        64,
			QueueEntryTimeout:  10 * time.Second,
			BaseConcurrencyCap: 8,
			BaseBatchSize:      4,
			RecomputePeriod:    20 * time.Millisecond,
			ThrottledBackoff:   5 * time.Millisecond,
			DispatchBackoff:    time.Millisecond,
			IdleBackoff:        time.Millisecond,
		}, scheduler.Dependencies{
			Load:     load,
			Slots:    formation.NewProvider(layout),
			Executor: sim.NewExecutor(5*time.Millisecond, failureRate, 42),
			Logger:   logging.NewTestLogger(),
			Metrics:  metrics.New(prometheus.NewRegistry()),
		})
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runErr = make(chan error, 1)
		go func() { runErr <- sched.Run(ctx) }()
	}

	AfterEach(func() {
		sched.Shutdown(2 * time.Second)
		cancel()
		Eventually(runErr, "5s").Should(Receive(BeNil()))
	})

	awaitAll := func(ids []string) map[types.LifecycleState]int {
		outcomes := make(map[types.LifecycleState]int)
		for _, id := range ids {
			ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
			state, _ := sched.Await(ctx, id)
			done()
			outcomes[state]++
		}
		return outcomes
	}

	It("drives a burst of spawns to completion", func() {
		startStack(0)

		ids := make([]string, 0, 40)
		for i := 0; i < 40; i++ {
			group := "attacker"
			if i%2 == 1 {
				group = "defender"
			}
			req := types.NewSpawnRequest(group, "party-1", 1)
			Expect(sched.Submit(req)).To(Succeed())
			ids = append(ids, req.ID)
		}

		outcomes := awaitAll(ids)
		Expect(outcomes[types.StateSuccess]).To(Equal(40))

		// Every successful spawn keeps its slot, split across the groups.
		Expect(sched.Reservations().Reserved("attacker")).To(HaveLen(20))
		Expect(sched.Reservations().Reserved("defender")).To(HaveLen(20))
		Expect(sched.Snapshot().QueueLength).To(BeZero())
	})

	It("records simulated failures without losing the rest", func() {
		startStack(0.3)

		ids := make([]string, 0, 30)
		for i := 0; i < 30; i++ {
			req := types.NewSpawnRequest("attacker", "party-1", 1)
			Expect(sched.Submit(req)).To(Succeed())
			ids = append(ids, req.ID)
		}

		outcomes := awaitAll(ids)
		Expect(outcomes[types.StateSuccess] + outcomes[types.StateError]).To(Equal(30))
		Expect(outcomes[types.StateSuccess]).To(BeNumerically(">", 0))

		// Failed spawns released their slots.
		Expect(sched.Reservations().Reserved("attacker")).To(HaveLen(outcomes[types.StateSuccess]))
	})

	It("rejects submissions while the system is overloaded", func() {
		startStack(0)
		load.SetLoadRatio(1.2)

		req := types.NewSpawnRequest("attacker", "party-1", 1)
		Expect(sched.Submit(req)).To(MatchError(types.ErrSystemOverloaded))

		state, cause := sched.GetStatus(req.ID)
		Expect(state).To(Equal(types.StateSystemOverloaded))
		Expect(cause).To(MatchError(types.ErrSystemOverloaded))

		// Recovery: once load drops, admissions flow again.
		load.SetLoadRatio(0.1)
		recovered := types.NewSpawnRequest("attacker", "party-1", 1)
		Expect(sched.Submit(recovered)).To(Succeed())

		ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		state, err := sched.Await(ctx, recovered.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(types.StateSuccess))
	})
})
