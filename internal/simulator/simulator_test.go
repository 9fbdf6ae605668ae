package simulator_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"airguard.dev/gateway/internal/broadcast"
	"airguard.dev/gateway/internal/gate"
	"airguard.dev/gateway/internal/ingest"
	"airguard.dev/gateway/internal/simulator"
	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
	"airguard.dev/gateway/pkg/mq/mock"
)

var _ = Describe("Simulator", func() {
	var (
		logger *slog.Logger
		bus    *mock.MockClient
		m      *metrics.SimulatorMetrics
		cfg    *simulator.Config
		now    time.Time
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		bus = mock.NewMockClient()
		m = metrics.NewSimulatorMetrics(prometheus.NewRegistry())
		now = time.Date(2025, 10, 6, 13, 25, 23, 0, time.UTC)
		cfg = &simulator.Config{
			Logger:          logger,
			Publisher:       bus,
			Metrics:         m,
			HealthInterval:  500 * time.Millisecond,
			CaptureInterval: 15 * time.Second,
			Seed:            42,
			Now:             func() time.Time { return now },
		}
	})

	newSimulator := func() *simulator.Simulator {
		sim, err := simulator.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		return sim
	}

	Describe("New", func() {
		It("should return error when config is nil", func() {
			sim, err := simulator.New(nil)
			Expect(err).To(MatchError(ContainSubstring("simulator config cannot be nil")))
			Expect(sim).To(BeNil())
		})

		DescribeTable("should reject invalid configuration",
			func(mutate func(*simulator.Config), message string) {
				mutate(cfg)
				_, err := simulator.New(cfg)
				Expect(err).To(MatchError(ContainSubstring(message)))
			},
			Entry("no logger", func(c *simulator.Config) { c.Logger = nil }, "logger cannot be nil"),
			Entry("no publisher", func(c *simulator.Config) { c.Publisher = nil }, "publisher cannot be nil"),
			Entry("no health interval", func(c *simulator.Config) { c.HealthInterval = 0 }, "health interval"),
			Entry("no capture interval", func(c *simulator.Config) { c.CaptureInterval = -time.Second }, "capture interval"),
			Entry("fault above one", func(c *simulator.Config) { c.FaultProbability = 1.5 }, "probabilities"),
			Entry("negative redelivery", func(c *simulator.Config) { c.RedeliveryProbability = -0.1 }, "probabilities"),
		)

		It("should default to the firmware policy", func() {
			newSimulator()
			Expect(cfg.Policy).To(Equal(gate.DefaultPolicy()))
			Expect(cfg.HoldDuration).To(Equal(10500 * time.Millisecond))
			Expect(cfg.SamplesPerBatch).To(Equal(200))
		})
	})

	Describe("Capture", func() {
		It("should publish an allowed batch the gateway accepts", func() {
			sim := newSimulator()
			sim.Tick(now.Add(-100 * time.Millisecond))
			sim.Health().StartHold(now.Add(-11 * time.Second))

			decision, err := sim.Capture(context.Background(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())

			published := bus.Published()
			Expect(published).To(HaveLen(1))

			raw, err := ingest.Decode(published[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(*raw.BatchID).To(MatchRegexp(`^0x[0-9A-F]{8}$`))
			Expect(raw.Samples).To(Equal(200))
			Expect(raw.GPSFix).To(Equal(1))
			Expect(raw.Sats).To(BeNumerically(">=", 4))
			Expect(raw.DateYMD).To(Equal(20251006))
			Expect(raw.TimeHMS).To(Equal(132523))

			sample, err := raw.Normalize(now)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.CapturedAt).NotTo(BeNil())
			Expect(sample.CapturedAt.Equal(now)).To(BeTrue())

			Expect(testutil.ToFloat64(m.BatchesPublished)).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.GateDecisions.WithLabelValues("none"))).To(Equal(1.0))
			Expect(sim.Health().Snapshot().HoldStartedAt.IsZero()).To(BeTrue())
		})

		It("should discard a batch when the hold is too short", func() {
			sim := newSimulator()
			sim.Tick(now)
			sim.Health().StartHold(now.Add(-9999 * time.Millisecond))

			decision, err := sim.Capture(context.Background(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision).To(Equal(gate.Deny(gate.ReasonHoldTooShort)))
			Expect(bus.Published()).To(BeEmpty())
			Expect(testutil.ToFloat64(m.GateDecisions.WithLabelValues("hold_too_short"))).To(Equal(1.0))
		})

		It("should discard a batch when every health report is lost", func() {
			cfg.FaultProbability = 1
			sim := newSimulator()
			sim.Tick(now)
			sim.Health().StartHold(now.Add(-11 * time.Second))

			decision, err := sim.Capture(context.Background(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Reason).To(Equal(gate.ReasonLinkDown))
			Expect(bus.Published()).To(BeEmpty())
		})

		It("should discard a batch when the sensor went quiet", func() {
			sim := newSimulator()
			sim.Tick(now.Add(-2 * time.Second))
			sim.Health().MarkLinkAck(now)
			sim.Health().StartHold(now.Add(-11 * time.Second))

			decision, err := sim.Capture(context.Background(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Reason).To(Equal(gate.ReasonSensorUnhealthy))
		})

		It("should redeliver a batch that the gateway then absorbs", func() {
			cfg.RedeliveryProbability = 1
			sim := newSimulator()
			sim.Tick(now)
			sim.Health().StartHold(now.Add(-11 * time.Second))

			_, err := sim.Capture(context.Background(), now)
			Expect(err).NotTo(HaveOccurred())

			published := bus.Published()
			Expect(published).To(HaveLen(2))
			Expect(published[1]).To(Equal(published[0]))
			Expect(testutil.ToFloat64(m.Redeliveries)).To(Equal(1.0))

			router, err := ingest.NewRouter(&ingest.RouterConfig{
				Logger:      logger,
				Store:       store.NewMemory(),
				Broadcaster: broadcast.NewHub(logger, nil),
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = router.SubmitPayload(context.Background(), ingest.SourceBus, published[0])
			Expect(err).NotTo(HaveOccurred())
			_, err = router.SubmitPayload(context.Background(), ingest.SourceBus, published[1])
			Expect(err).To(MatchError(ingest.ErrDuplicateBatch))
		})

		It("should report publish failures", func() {
			bus.PublishError = errors.New("channel closed")
			sim := newSimulator()
			sim.Tick(now)
			sim.Health().StartHold(now.Add(-11 * time.Second))

			_, err := sim.Capture(context.Background(), now)
			Expect(err).To(MatchError(ContainSubstring("failed to publish batch")))
			Expect(testutil.ToFloat64(m.PublishFailures.WithLabelValues("publish_error"))).To(Equal(1.0))
		})
	})

	Describe("Run", func() {
		It("should capture on schedule until cancelled", func() {
			cfg.Now = nil
			cfg.HealthInterval = 10 * time.Millisecond
			cfg.CaptureInterval = 30 * time.Millisecond
			cfg.Policy = gate.Policy{
				HoldThreshold:   20 * time.Millisecond,
				LinkTimeout:     time.Second,
				SensorTimeout:   time.Second,
				PositionTimeout: time.Second,
			}
			sim := newSimulator()

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- sim.Run(ctx) }()

			Eventually(func() int { return len(bus.Published()) }, 5*time.Second).Should(BeNumerically(">=", 2))

			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
		})
	})
})
