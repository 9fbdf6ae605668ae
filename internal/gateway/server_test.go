package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"airguard.dev/gateway/internal/gateway"
	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/mq/mock"
	"airguard.dev/gateway/pkg/mqtt"
)

var _ = Describe("Gateway Server", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("NewServer", func() {
		valid := func() *gateway.ServerConfig {
			return &gateway.ServerConfig{
				Logger:      logger,
				StoreDriver: gateway.StorePostgres,
				DB:          &store.DBConfig{Host: "localhost", Port: 5432, User: "test", DBName: "testdb"},
				BusDriver:   gateway.BusMQTT,
				MQTT:        &mqtt.Config{Broker: "tcp://localhost:1883", ClientID: "gw"},
				HTTPAddr:    ":8080",
				GRPCAddr:    ":9090",
			}
		}

		It("should create a server with valid configuration", func() {
			server, err := gateway.NewServer(valid())
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should return error when config is nil", func() {
			server, err := gateway.NewServer(nil)
			Expect(err).To(MatchError(ContainSubstring("server config cannot be nil")))
			Expect(server).To(BeNil())
		})

		DescribeTable("should reject incomplete configuration",
			func(mutate func(*gateway.ServerConfig), message string) {
				cfg := valid()
				mutate(cfg)
				_, err := gateway.NewServer(cfg)
				Expect(err).To(MatchError(ContainSubstring(message)))
			},
			Entry("no logger", func(c *gateway.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("unknown store", func(c *gateway.ServerConfig) { c.StoreDriver = "sqlite" }, "unknown store driver"),
			Entry("postgres without db", func(c *gateway.ServerConfig) { c.DB = nil }, "database config cannot be nil"),
			Entry("unknown bus", func(c *gateway.ServerConfig) { c.BusDriver = "kafka" }, "unknown bus driver"),
			Entry("mqtt without config", func(c *gateway.ServerConfig) { c.MQTT = nil }, "mqtt config cannot be nil"),
			Entry("amqp without url", func(c *gateway.ServerConfig) { c.BusDriver = gateway.BusAMQP }, "rabbitmq URL cannot be empty"),
			Entry("amqp without queue", func(c *gateway.ServerConfig) {
				c.BusDriver = gateway.BusAMQP
				c.AMQPURL = "amqp://localhost:5672"
			}, "queue name cannot be empty"),
			Entry("no http address", func(c *gateway.ServerConfig) { c.HTTPAddr = "" }, "http address cannot be empty"),
			Entry("no grpc address", func(c *gateway.ServerConfig) { c.GRPCAddr = "" }, "gRPC address cannot be empty"),
		)

		It("should accept an injected bus without a driver", func() {
			cfg := valid()
			cfg.BusDriver = ""
			cfg.Bus = mock.NewMockClient()
			_, err := gateway.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Run", func() {
		var (
			bus    *mock.MockClient
			server *gateway.Server
			ctx    context.Context
			cancel context.CancelFunc
			runErr chan error
		)

		BeforeEach(func() {
			bus = mock.NewMockClient()
			ctx, cancel = context.WithCancel(context.Background())
			runErr = make(chan error, 1)

			var err error
			server, err = gateway.NewServer(&gateway.ServerConfig{
				Logger:       logger,
				StoreDriver:  gateway.StoreMemory,
				Bus:          bus,
				HTTPAddr:     "127.0.0.1:0",
				GRPCAddr:     "127.0.0.1:0",
				ReadyTimeout: time.Second,
				Registry:     prometheus.NewRegistry(),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			cancel()
		})

		start := func() {
			go func() { runErr <- server.Run(ctx) }()
			Eventually(server.GRPCAddr).ShouldNot(BeEmpty())
		}

		get := func(path string) (int, string) {
			resp, err := http.Get("http://" + server.HTTPAddr() + path)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			return resp.StatusCode, string(body)
		}

		It("should ingest from both paths and shut down cleanly", func() {
			start()

			resp, err := http.Post("http://"+server.HTTPAddr()+"/api/v1/samples", "application/json",
				strings.NewReader(`{"batchId":"0xAAAA0001","tempC":25.0}`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			bus.Inbound <- []byte(`{"batchId":"aaaa0001","tempC":30.0}`)
			bus.Inbound <- []byte(`{"batchId":"AAAA0002","tempC":26.0}`)
			Eventually(func() int {
				acked, _ := bus.Counts()
				return acked
			}).Should(Equal(2))

			status, body := get("/api/v1/samples")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`"total":2`))

			status, body = get("/api/v1/samples/AAAA0001")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`"tempC":25`))

			status, _ = get("/metrics")
			Expect(status).To(Equal(http.StatusOK))

			status, body = get("/health")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`"bus":"up"`))

			bus.SetConnected(false)
			status, body = get("/health")
			Expect(status).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(ContainSubstring(`"bus":"down"`))

			cancel()
			Eventually(runErr, 15*time.Second).Should(Receive(BeNil()))
			Expect(bus.CloseCalls).To(Equal(1))
		})

		It("should serve gRPC health", func() {
			start()

			conn, err := grpc.NewClient(server.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			client := healthpb.NewHealthClient(conn)
			Eventually(func() healthpb.HealthCheckResponse_ServingStatus {
				resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
				if err != nil {
					return healthpb.HealthCheckResponse_UNKNOWN
				}
				return resp.GetStatus()
			}).Should(Equal(healthpb.HealthCheckResponse_SERVING))
		})

		It("should fail when the bus never becomes ready", func() {
			bus.WaitReadyError = errors.New("broker unreachable")

			err := server.Run(ctx)
			Expect(err).To(MatchError(ContainSubstring("failed to connect to message bus")))
			Expect(bus.CloseCalls).To(Equal(1))
		})

		It("should stop when the bus subscription ends", func() {
			start()

			close(bus.Inbound)
			Eventually(runErr, 15*time.Second).Should(Receive(MatchError(ContainSubstring("bus subscription ended"))))
		})
	})
})
