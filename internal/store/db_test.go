package store_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airguard.dev/gateway/internal/store"
)

var _ = Describe("Database", func() {
	var (
		logger *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("NewDB", func() {
		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				db, err := store.NewDB(nil)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
				Expect(db).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				config := &store.DBConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "test",
					Password: "password",
					DBName:   "testdb",
					SSLMode:  "disable",
				}

				db, err := store.NewDB(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logger"))
				Expect(db).To(BeNil())
			})
		})

		Context("when the database is unreachable", func() {
			It("should fail instead of starting degraded", func() {
				config := &store.DBConfig{
					Logger:   logger,
					Host:     "invalid-host-that-does-not-exist",
					Port:     5432,
					User:     "test",
					Password: "password",
					DBName:   "testdb",
					SSLMode:  "disable",
				}

				db, err := store.NewDB(config)
				Expect(err).To(HaveOccurred())
				Expect(db).To(BeNil())
			})
		})
	})

	Describe("DSN", func() {
		It("should render every connection parameter", func() {
			config := &store.DBConfig{
				Host:     "db.internal",
				Port:     5433,
				User:     "airguard",
				Password: "secret",
				DBName:   "telemetry",
				SSLMode:  "require",
			}

			Expect(config.DSN()).To(Equal(
				"host=db.internal port=5433 user=airguard password=secret dbname=telemetry sslmode=require"))
		})
	})

	Describe("CloseDB", func() {
		It("should handle nil database gracefully", func() {
			Expect(store.CloseDB(nil, logger)).To(Succeed())
		})

		It("should handle nil logger gracefully", func() {
			Expect(store.CloseDB(nil, nil)).To(Succeed())
		})
	})

	Describe("Sample", func() {
		It("should map to the samples table", func() {
			Expect(store.Sample{}.TableName()).To(Equal("samples"))
		})
	})
})
