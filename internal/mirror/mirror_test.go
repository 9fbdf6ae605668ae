package mirror_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"airguard.dev/gateway/internal/mirror"
	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
)

type memorySink struct {
	name    string
	fail    bool
	block   chan struct{}
	mu      sync.Mutex
	written []string
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, sample *store.Sample) error {
	if s.block != nil {
		<-s.block
	}
	if s.fail {
		return errors.New("sink offline")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, sample.BatchID)
	return nil
}

func (s *memorySink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

var _ = Describe("Mirror", func() {
	var (
		logger  *slog.Logger
		mirrorM *metrics.MirrorMetrics
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		mirrorM = metrics.NewMirrorMetrics(prometheus.NewRegistry())
	})

	Describe("New", func() {
		It("should return error when config is nil", func() {
			m, err := mirror.New(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
			Expect(m).To(BeNil())
		})

		It("should require at least one sink", func() {
			_, err := mirror.New(&mirror.Config{Logger: logger})
			Expect(err).To(MatchError(ContainSubstring("at least one sink")))
		})
	})

	It("should write every sample to every sink", func() {
		a, b := &memorySink{name: "a"}, &memorySink{name: "b"}
		m, err := mirror.New(&mirror.Config{Logger: logger, Sinks: []mirror.Sink{a, b}, Metrics: mirrorM, Workers: 1})
		Expect(err).NotTo(HaveOccurred())
		m.Start(context.Background())

		for i := range 3 {
			m.Enqueue(&store.Sample{BatchID: fmt.Sprintf("B%d", i)})
		}
		m.Stop()

		Expect(a.ids()).To(Equal([]string{"B0", "B1", "B2"}))
		Expect(b.ids()).To(Equal([]string{"B0", "B1", "B2"}))
		Expect(testutil.ToFloat64(mirrorM.SinkWrites.WithLabelValues("a", "success"))).To(Equal(3.0))
	})

	It("should keep going when one sink fails", func() {
		bad, good := &memorySink{name: "bad", fail: true}, &memorySink{name: "good"}
		m, err := mirror.New(&mirror.Config{Logger: logger, Sinks: []mirror.Sink{bad, good}, Metrics: mirrorM})
		Expect(err).NotTo(HaveOccurred())
		m.Start(context.Background())

		m.Enqueue(&store.Sample{BatchID: "B0"})
		m.Stop()

		Expect(good.ids()).To(Equal([]string{"B0"}))
		Expect(testutil.ToFloat64(mirrorM.SinkWrites.WithLabelValues("bad", "error"))).To(Equal(1.0))
	})

	It("should drop samples instead of blocking when the queue is full", func() {
		slow := &memorySink{name: "slow", block: make(chan struct{})}
		m, err := mirror.New(&mirror.Config{
			Logger:    logger,
			Sinks:     []mirror.Sink{slow},
			Metrics:   mirrorM,
			QueueSize: 1,
			Workers:   1,
		})
		Expect(err).NotTo(HaveOccurred())
		m.Start(context.Background())

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range 10 {
				m.Enqueue(&store.Sample{BatchID: fmt.Sprintf("B%d", i)})
			}
		}()
		Eventually(done).Should(BeClosed())
		Expect(testutil.ToFloat64(mirrorM.Dropped)).To(BeNumerically(">=", 8))

		close(slow.block)
		m.Stop()
	})

	It("should ignore samples after Stop", func() {
		sink := &memorySink{name: "a"}
		m, err := mirror.New(&mirror.Config{Logger: logger, Sinks: []mirror.Sink{sink}})
		Expect(err).NotTo(HaveOccurred())
		m.Start(context.Background())
		m.Stop()
		m.Stop()

		Expect(func() { m.Enqueue(&store.Sample{BatchID: "late"}) }).NotTo(Panic())
		Expect(sink.ids()).To(BeEmpty())
	})
})
