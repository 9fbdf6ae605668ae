package mqtt_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"airguard.dev/gateway/pkg/metrics"
	"airguard.dev/gateway/pkg/mq"
	"airguard.dev/gateway/pkg/mqtt"
)

// testMessage is an inbound message that records acknowledgments.
type testMessage struct {
	payload []byte

	mu    sync.Mutex
	acked int
}

func (m *testMessage) Duplicate() bool   { return false }
func (m *testMessage) Qos() byte         { return mqtt.DefaultQoS }
func (m *testMessage) Retained() bool    { return false }
func (m *testMessage) Topic() string     { return mqtt.DefaultTopic }
func (m *testMessage) MessageID() uint16 { return 7 }
func (m *testMessage) Payload() []byte   { return m.payload }

func (m *testMessage) Ack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked++
}

func (m *testMessage) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

var _ = Describe("MQTT Client", func() {
	var (
		logger *slog.Logger
		cfg    *mqtt.Config
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		cfg = &mqtt.Config{
			Logger:   logger,
			Broker:   "tcp://127.0.0.1:1",
			ClientID: "airguard-test",
			QoS:      mqtt.DefaultQoS,
		}
	})

	Describe("New", func() {
		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				client, err := mqtt.New(nil)
				Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
				Expect(client).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				cfg.Logger = nil
				_, err := mqtt.New(cfg)
				Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
			})

			It("should return error when broker is empty", func() {
				cfg.Broker = ""
				_, err := mqtt.New(cfg)
				Expect(err).To(MatchError(ContainSubstring("broker URL cannot be empty")))
			})

			It("should return error when client id is empty", func() {
				cfg.ClientID = ""
				_, err := mqtt.New(cfg)
				Expect(err).To(MatchError(ContainSubstring("client id cannot be empty")))
			})

			It("should reject an out of range qos", func() {
				cfg.QoS = 3
				_, err := mqtt.New(cfg)
				Expect(err).To(MatchError(ContainSubstring("invalid qos")))
			})
		})
	})

	Context("when the broker is unreachable", func() {
		var client *mqtt.Client

		BeforeEach(func() {
			var err error
			client, err = mqtt.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(client.Close)
		})

		It("should keep WaitReady blocked until the context expires", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			err := client.WaitReady(ctx)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(client.IsConnected()).To(BeFalse())
		})

		It("should end Subscribe quietly on cancellation", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			Expect(client.Subscribe(ctx, func(context.Context, []byte) error { return nil })).To(Succeed())
		})

		It("should report shutdown after Close", func() {
			Expect(client.Close()).To(Succeed())
			Expect(client.Close()).To(Succeed())
			Expect(client.WaitReady(context.Background())).To(MatchError(mq.ErrShutdown))
		})
	})
	Describe("message handling", func() {
		var (
			client *mqtt.Client
			mqM    *metrics.MQMetrics
		)

		BeforeEach(func() {
			mqM = metrics.NewMQMetrics(prometheus.NewRegistry())
			cfg.Metrics = mqM

			var err error
			client, err = mqtt.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(client.Close)
		})

		It("should acknowledge a message once it is handled", func() {
			msg := &testMessage{payload: []byte(`{"batchId":"01"}`)}
			var got []byte

			client.HandleMessage(context.Background(), func(_ context.Context, payload []byte) error {
				got = payload
				return nil
			}, msg)

			Expect(got).To(Equal(msg.payload))
			Expect(msg.ackCount()).To(Equal(1))
		})

		It("should leave a failed message unacknowledged for redelivery", func() {
			msg := &testMessage{payload: []byte(`{"batchId":"01"}`)}

			client.HandleMessage(context.Background(), func(context.Context, []byte) error {
				return errors.New("store unavailable")
			}, msg)

			Expect(msg.ackCount()).To(BeZero())
			Expect(testutil.ToFloat64(mqM.ConsumptionFailures.WithLabelValues("mqtt", mqtt.DefaultTopic))).To(Equal(1.0))
		})
	})
})
