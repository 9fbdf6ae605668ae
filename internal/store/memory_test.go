package store_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airguard.dev/gateway/internal/store"
)

func newSample(batchID string, storedAt time.Time) *store.Sample {
	return &store.Sample{
		BatchID:           batchID,
		SessionDurationMs: 12000,
		SampleCount:       240,
		Latitude:          52.52,
		Longitude:         13.405,
		FixValid:          true,
		Satellites:        7,
		TemperatureC:      21.5,
		ReceivedAt:        storedAt,
		StoredAt:          storedAt,
	}
}

var _ = Describe("MemoryStore", func() {
	var (
		ctx context.Context
		s   *store.MemoryStore
		t0  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = store.NewMemory()
		t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	Describe("Insert", func() {
		It("should store a new batch and report Inserted", func() {
			res, err := s.Insert(ctx, newSample("A1B2C3D4", t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(store.Inserted))
			Expect(s.Len()).To(Equal(1))
		})

		It("should report Duplicate and keep the first record", func() {
			first := newSample("A1B2C3D4", t0)
			second := newSample("A1B2C3D4", t0.Add(time.Minute))
			second.SampleCount = 1

			_, err := s.Insert(ctx, first)
			Expect(err).NotTo(HaveOccurred())

			res, err := s.Insert(ctx, second)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(store.Duplicate))
			Expect(s.Len()).To(Equal(1))

			got, err := s.Get(ctx, "A1B2C3D4")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SampleCount).To(Equal(240))
		})

		It("should yield exactly one Inserted under concurrent inserts", func() {
			const workers = 50
			var (
				wg       sync.WaitGroup
				inserted atomic.Int32
			)

			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := s.Insert(ctx, newSample("DEADBEEF", t0))
					Expect(err).NotTo(HaveOccurred())
					if res == store.Inserted {
						inserted.Add(1)
					}
				}()
			}
			wg.Wait()

			Expect(inserted.Load()).To(Equal(int32(1)))
			Expect(s.Len()).To(Equal(1))
		})

		It("should refuse work on a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := s.Insert(cancelled, newSample("A1", t0))
			Expect(err).To(MatchError(context.Canceled))
			Expect(s.Len()).To(BeZero())
		})
	})

	Describe("Get", func() {
		It("should return ErrNotFound for an unknown batch", func() {
			_, err := s.Get(ctx, "MISSING")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should return a copy the caller cannot mutate", func() {
			_, err := s.Insert(ctx, newSample("A1", t0))
			Expect(err).NotTo(HaveOccurred())

			got, err := s.Get(ctx, "A1")
			Expect(err).NotTo(HaveOccurred())
			got.SampleCount = 0

			again, err := s.Get(ctx, "A1")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.SampleCount).To(Equal(240))
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			for i := range 5 {
				_, err := s.Insert(ctx, newSample(fmt.Sprintf("B%d", i), t0.Add(time.Duration(i)*time.Second)))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should order newest stored first", func() {
			page, err := s.List(ctx, 10, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Total).To(Equal(int64(5)))

			ids := make([]string, 0, len(page.Samples))
			for _, sample := range page.Samples {
				ids = append(ids, sample.BatchID)
			}
			Expect(ids).To(Equal([]string{"B4", "B3", "B2", "B1", "B0"}))
		})

		It("should break storedAt ties by insertion order", func() {
			_, err := s.Insert(ctx, newSample("TIE1", t0.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Insert(ctx, newSample("TIE2", t0.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())

			page, err := s.List(ctx, 2, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Samples[0].BatchID).To(Equal("TIE2"))
			Expect(page.Samples[1].BatchID).To(Equal("TIE1"))
		})

		It("should place a late insert with an older storedAt in order", func() {
			_, err := s.Insert(ctx, newSample("LATE", t0.Add(2500*time.Millisecond)))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Insert(ctx, newSample("OLDEST", t0.Add(-time.Minute)))
			Expect(err).NotTo(HaveOccurred())

			page, err := s.List(ctx, 10, 0)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]string, 0, len(page.Samples))
			for _, sample := range page.Samples {
				ids = append(ids, sample.BatchID)
			}
			Expect(ids).To(Equal([]string{"B4", "B3", "LATE", "B2", "B1", "B0", "OLDEST"}))
		})

		It("should page with limit and offset", func() {
			page, err := s.List(ctx, 2, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Limit).To(Equal(2))
			Expect(page.Offset).To(Equal(2))
			Expect(page.Samples).To(HaveLen(2))
			Expect(page.Samples[0].BatchID).To(Equal("B2"))
		})

		It("should return an empty page past the end", func() {
			page, err := s.List(ctx, 10, 50)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Samples).To(BeEmpty())
			Expect(page.Total).To(Equal(int64(5)))
		})

		It("should treat a negative offset as zero", func() {
			page, err := s.List(ctx, 1, -3)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Offset).To(BeZero())
			Expect(page.Samples[0].BatchID).To(Equal("B4"))
		})
	})

	DescribeTable("ClampLimit",
		func(requested, expected int) {
			Expect(store.ClampLimit(requested)).To(Equal(expected))
		},
		Entry("zero becomes one", 0, 1),
		Entry("negative becomes one", -5, 1),
		Entry("within bounds is kept", 10, 10),
		Entry("maximum is kept", store.MaxLimit, store.MaxLimit),
		Entry("above maximum is capped", 5000, store.MaxLimit),
	)

	It("should label insert results", func() {
		Expect(store.Inserted.String()).To(Equal("inserted"))
		Expect(store.Duplicate.String()).To(Equal("duplicate"))
	})
})
