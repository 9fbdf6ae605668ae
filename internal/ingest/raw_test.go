package ingest_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airguard.dev/gateway/internal/ingest"
)

var _ = Describe("RawSample", func() {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	Describe("Decode", func() {
		It("should decode the device payload", func() {
			raw, err := ingest.Decode([]byte(`{
				"batchId":"0xaaaa0001","sessionMs":12000,"samples":240,
				"dateYMD":20260301,"timeHMS":115959,"msec":250,
				"lat":34.05,"lon":-118.25,"alt":71.2,"gpsFix":1,"sats":6,
				"ax":0.01,"ay":-0.02,"az":9.81,"gx":0.1,"gy":0.2,"gz":0.3,"tempC":25.0
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(*raw.BatchID).To(Equal("0xaaaa0001"))
			Expect(raw.Samples).To(Equal(240))
			Expect(raw.TempC).To(Equal(25.0))
		})

		DescribeTable("should reject malformed payloads",
			func(payload string) {
				_, err := ingest.Decode([]byte(payload))
				Expect(errors.Is(err, ingest.ErrInvalidSample)).To(BeTrue())
			},
			Entry("not json", `batch 0x01`),
			Entry("truncated", `{"batchId":"01"`),
			Entry("wrong type for batchId", `{"batchId":17}`),
			Entry("wrong type for lat", `{"batchId":"01","lat":"north"}`),
		)
	})

	DescribeTable("NormalizeBatchID",
		func(in, out string) {
			Expect(ingest.NormalizeBatchID(in)).To(Equal(out))
		},
		Entry("lower hex with prefix", "0xaaaa0001", "AAAA0001"),
		Entry("upper prefix", "0XAAAA0001", "AAAA0001"),
		Entry("no prefix", "aaaa0001", "AAAA0001"),
		Entry("surrounding space", "  0x1f ", "1F"),
		Entry("prefix only", "0x", ""),
	)

	Describe("Normalize", func() {
		var raw *ingest.RawSample

		BeforeEach(func() {
			id := "0xAAAA0001"
			raw = &ingest.RawSample{
				BatchID: &id,
				Lat:     34.05,
				Lon:     -118.25,
				GPSFix:  1,
				Sats:    6,
				TempC:   25.0,
			}
		})

		It("should map wire fields onto the stored sample", func() {
			sample, err := raw.Normalize(received)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.BatchID).To(Equal("AAAA0001"))
			Expect(sample.FixValid).To(BeTrue())
			Expect(sample.Satellites).To(Equal(6))
			Expect(sample.TemperatureC).To(Equal(25.0))
			Expect(sample.ReceivedAt).To(Equal(received))
			Expect(sample.CapturedAt).To(BeNil())
		})

		It("should keep an upstream receipt time", func() {
			upstream := received.Add(-3 * time.Second)
			raw.ReceivedTs = &upstream

			sample, err := raw.Normalize(received)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.ReceivedAt).To(Equal(upstream))
		})

		It("should not invalidate a sample without a position fix", func() {
			raw.GPSFix = 0
			raw.Sats = 0

			sample, err := raw.Normalize(received)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.FixValid).To(BeFalse())
		})

		It("should build the capture time from the device clock", func() {
			raw.DateYMD = 20260301
			raw.TimeHMS = 115959
			raw.Msec = 250

			sample, err := raw.Normalize(received)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.CapturedAt).NotTo(BeNil())
			Expect(*sample.CapturedAt).To(Equal(time.Date(2026, 3, 1, 11, 59, 59, 250*int(time.Millisecond), time.UTC)))
		})

		DescribeTable("should leave capture time empty for impossible device clocks",
			func(ymd, hms, msec int) {
				raw.DateYMD, raw.TimeHMS, raw.Msec = ymd, hms, msec
				sample, err := raw.Normalize(received)
				Expect(err).NotTo(HaveOccurred())
				Expect(sample.CapturedAt).To(BeNil())
			},
			Entry("february 31st", 20260231, 120000, 0),
			Entry("month 13", 20261301, 120000, 0),
			Entry("hour 24", 20260301, 240000, 0),
			Entry("msec overflow", 20260301, 120000, 1000),
		)

		DescribeTable("should reject invalid values",
			func(mutate func(*ingest.RawSample)) {
				mutate(raw)
				_, err := raw.Normalize(received)
				Expect(err).To(MatchError(ingest.ErrInvalidSample))
			},
			Entry("missing batchId", func(r *ingest.RawSample) { r.BatchID = nil }),
			Entry("blank batchId", func(r *ingest.RawSample) { blank := " 0x "; r.BatchID = &blank }),
			Entry("negative sessionMs", func(r *ingest.RawSample) { r.SessionMs = -1 }),
			Entry("negative samples", func(r *ingest.RawSample) { r.Samples = -1 }),
			Entry("negative sats", func(r *ingest.RawSample) { r.Sats = -1 }),
			Entry("latitude beyond pole", func(r *ingest.RawSample) { r.Lat = 90.5 }),
			Entry("longitude beyond antimeridian", func(r *ingest.RawSample) { r.Lon = -180.1 }),
		)
	})
})
