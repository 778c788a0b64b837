package cart

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/shop-scanner/internal/notify"
	"github.com/zombor/shop-scanner/internal/scan"
)

var _ = Describe("Gate", func() {
	var (
		ledger  *Ledger
		gate    *Gate
		clock   *fakeClock
		broker  *notify.Broker[Attempt]
		timeout time.Duration
		plain   scan.Record
		gated   scan.Record
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)}
		broker = notify.NewBroker[Attempt](16)
		timeout = 0
		plain = scan.Record{Code: "A1", Price: "12.50"}
		gated = scan.Record{Code: "A2", Price: "5.00", RequiresSecondaryCode: true, SecondaryCode: "XYZ"}
	})

	JustBeforeEach(func() {
		ledger = NewLedger(WithClock(clock))
		gate = NewGate(ledger,
			WithTimeout(timeout),
			WithGateClock(clock),
			WithGateIDGenerator(&sequenceIDGenerator{prefix: "attempt"}),
			WithGateBroker(broker),
		)
	})

	AfterEach(func() {
		broker.Close()
	})

	Describe("Begin", func() {
		When("the record needs no secondary code", func() {
			It("admits it immediately", func() {
				attempt := gate.Begin(plain)
				Expect(attempt.State).To(Equal(StateAdmitted))
				Expect(attempt.Line).NotTo(BeNil())
				Expect(ledger.Len()).To(Equal(1))
				Expect(ledger.Total().String()).To(Equal("12.5"))
				Expect(gate.Pending()).To(BeEmpty())
			})
		})

		When("the record needs a secondary code", func() {
			It("waits for a secondary scan without touching the cart", func() {
				attempt := gate.Begin(gated)
				Expect(attempt.State).To(Equal(StateAwaitingSecondaryScan))
				Expect(attempt.Check).To(Equal(scan.CheckUnknown))
				Expect(attempt.Line).To(BeNil())
				Expect(ledger.Len()).To(BeZero())
				Expect(gate.Pending()).To(HaveLen(1))
			})

			It("becomes the active attempt", func() {
				attempt := gate.Begin(gated)
				active, ok := gate.Active()
				Expect(ok).To(BeTrue())
				Expect(active.ID).To(Equal(attempt.ID))
			})
		})
	})

	Describe("Confirm", func() {
		var attempt Attempt

		JustBeforeEach(func() {
			attempt = gate.Begin(gated)
		})

		When("the scanned code matches", func() {
			It("admits the record and closes the attempt", func() {
				confirmed, err := gate.Confirm(attempt.ID, "XYZ")
				Expect(err).NotTo(HaveOccurred())
				Expect(confirmed.Check).To(Equal(scan.CheckValid))
				Expect(confirmed.State).To(Equal(StateAdmitted))
				Expect(confirmed.Closed()).To(BeTrue())
				Expect(confirmed.Line.Code).To(Equal("A2"))
				Expect(ledger.Total().String()).To(Equal("5"))
				Expect(gate.Pending()).To(BeEmpty())
			})

			It("cannot be confirmed twice", func() {
				_, err := gate.Confirm(attempt.ID, "XYZ")
				Expect(err).NotTo(HaveOccurred())
				_, err = gate.Confirm(attempt.ID, "XYZ")
				Expect(err).To(MatchError(ErrAttemptNotFound))
				Expect(ledger.Len()).To(Equal(1))
			})
		})

		When("the scanned code does not match", func() {
			It("keeps the attempt awaiting and the cart unchanged", func() {
				rejected, err := gate.Confirm(attempt.ID, "ABC")
				Expect(err).NotTo(HaveOccurred())
				Expect(rejected.Check).To(Equal(scan.CheckInvalid))
				Expect(rejected.State).To(Equal(StateAwaitingSecondaryScan))
				Expect(ledger.Len()).To(BeZero())
				Expect(ledger.Total().IsZero()).To(BeTrue())
			})

			It("allows a rescan", func() {
				_, err := gate.Confirm(attempt.ID, "ABC")
				Expect(err).NotTo(HaveOccurred())
				confirmed, err := gate.Confirm(attempt.ID, "XYZ")
				Expect(err).NotTo(HaveOccurred())
				Expect(confirmed.State).To(Equal(StateAdmitted))
				Expect(ledger.Len()).To(Equal(1))
			})
		})

		When("the attempt is unknown", func() {
			It("returns ErrAttemptNotFound", func() {
				_, err := gate.Confirm("other", "XYZ")
				Expect(err).To(MatchError(ErrAttemptNotFound))
			})
		})
	})

	Describe("concurrent attempts", func() {
		It("keeps a separate check result per attempt", func() {
			other := scan.Record{Code: "A3", Price: "1.00", RequiresSecondaryCode: true, SecondaryCode: "QQQ"}
			first := gate.Begin(gated)
			second := gate.Begin(other)

			rejected, err := gate.Confirm(first.ID, "QQQ")
			Expect(err).NotTo(HaveOccurred())
			Expect(rejected.Check).To(Equal(scan.CheckInvalid))

			accepted, err := gate.Confirm(second.ID, "QQQ")
			Expect(err).NotTo(HaveOccurred())
			Expect(accepted.Check).To(Equal(scan.CheckValid))

			pending := gate.Pending()
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(first.ID))
			Expect(pending[0].Check).To(Equal(scan.CheckInvalid))
			Expect(ledger.Lines()).To(HaveLen(1))
			Expect(ledger.Lines()[0].Code).To(Equal("A3"))
		})
	})

	Describe("ConfirmActive", func() {
		It("reports false when nothing is awaiting", func() {
			_, handled, err := gate.ConfirmActive("XYZ")
			Expect(err).NotTo(HaveOccurred())
			Expect(handled).To(BeFalse())
		})

		It("confirms the most recently started attempt", func() {
			other := scan.Record{Code: "A3", RequiresSecondaryCode: true, SecondaryCode: "QQQ"}
			gate.Begin(gated)
			latest := gate.Begin(other)

			attempt, handled, err := gate.ConfirmActive("QQQ")
			Expect(err).NotTo(HaveOccurred())
			Expect(handled).To(BeTrue())
			Expect(attempt.ID).To(Equal(latest.ID))
			Expect(attempt.State).To(Equal(StateAdmitted))

			active, ok := gate.Active()
			Expect(ok).To(BeTrue())
			Expect(active.Record.Code).To(Equal("A2"))
		})
	})

	Describe("Cancel", func() {
		It("abandons the attempt without admitting", func() {
			attempt := gate.Begin(gated)
			cancelled, err := gate.Cancel(attempt.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(cancelled.State).To(Equal(StateCancelled))
			Expect(gate.Pending()).To(BeEmpty())
			Expect(ledger.Len()).To(BeZero())

			_, err = gate.Confirm(attempt.ID, "XYZ")
			Expect(err).To(MatchError(ErrAttemptNotFound))
		})

		It("returns ErrAttemptNotFound for unknown attempts", func() {
			_, err := gate.Cancel("other")
			Expect(err).To(MatchError(ErrAttemptNotFound))
		})
	})

	Describe("timeout", func() {
		BeforeEach(func() {
			timeout = time.Minute
		})

		It("sets a deadline on awaiting attempts", func() {
			attempt := gate.Begin(gated)
			Expect(attempt.ExpiresAt).To(Equal(clock.now.Add(time.Minute)))
		})

		It("accepts a confirmation before the deadline", func() {
			attempt := gate.Begin(gated)
			clock.Advance(59 * time.Second)
			confirmed, err := gate.Confirm(attempt.ID, "XYZ")
			Expect(err).NotTo(HaveOccurred())
			Expect(confirmed.State).To(Equal(StateAdmitted))
		})

		It("rejects a confirmation after the deadline", func() {
			attempt := gate.Begin(gated)
			clock.Advance(time.Minute)
			expired, err := gate.Confirm(attempt.ID, "XYZ")
			Expect(err).To(MatchError(ErrAttemptExpired))
			Expect(expired.State).To(Equal(StateExpired))
			Expect(ledger.Len()).To(BeZero())

			_, err = gate.Confirm(attempt.ID, "XYZ")
			Expect(err).To(MatchError(ErrAttemptNotFound))
		})

		It("drops expired attempts from Active, Pending and Sweep", func() {
			gate.Begin(gated)
			gate.Begin(gated)
			clock.Advance(2 * time.Minute)

			_, ok := gate.Active()
			Expect(ok).To(BeFalse())
			Expect(gate.Pending()).To(BeEmpty())
			Expect(gate.Sweep()).To(BeZero())
		})

		It("sweeps expired attempts", func() {
			gate.Begin(gated)
			clock.Advance(2 * time.Minute)
			Expect(gate.Sweep()).To(Equal(1))
			Expect(gate.Pending()).To(BeEmpty())
		})
	})

	Describe("events", func() {
		It("publishes each state change", func() {
			events, cancel := broker.Subscribe()
			defer cancel()

			attempt := gate.Begin(gated)
			_, err := gate.Confirm(attempt.ID, "ABC")
			Expect(err).NotTo(HaveOccurred())
			_, err = gate.Confirm(attempt.ID, "XYZ")
			Expect(err).NotTo(HaveOccurred())

			var ev Attempt
			Eventually(events).Should(Receive(&ev))
			Expect(ev.State).To(Equal(StateAwaitingSecondaryScan))
			Eventually(events).Should(Receive(&ev))
			Expect(ev.Check).To(Equal(scan.CheckInvalid))
			Eventually(events).Should(Receive(&ev))
			Expect(ev.State).To(Equal(StateAdmitted))
		})
	})
})
