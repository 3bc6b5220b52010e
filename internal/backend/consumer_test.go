package backend_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/switchwatch/internal/backend"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/mq/mock"
	"procodus.dev/switchwatch/pkg/telemetry"
)

func envelope(row any) []byte {
	data, err := telemetry.Encode(row)
	Expect(err).NotTo(HaveOccurred())
	return data
}

var _ = Describe("Consumer", func() {
	var (
		client *mock.MockClient
		mem    *store.MemoryStore
		ack    *mock.Acknowledger
		ctx    context.Context
		cancel context.CancelFunc
	)

	newConsumer := func(s store.Store) *backend.Consumer {
		c, err := backend.NewConsumer(&backend.ConsumerConfig{
			Logger:        testLogger(),
			Store:         s,
			Client:        client,
			QueueName:     "telemetry",
			RetryInterval: time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		client = mock.NewMockClient()
		mem = store.NewMemoryStore()
		ack = &mock.Acknowledger{}
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })
	})

	Describe("NewConsumer", func() {
		DescribeTable("rejects incomplete configuration",
			func(mutate func(*backend.ConsumerConfig), msg string) {
				cfg := &backend.ConsumerConfig{
					Logger:    testLogger(),
					Store:     mem,
					Client:    client,
					QueueName: "telemetry",
				}
				mutate(cfg)
				c, err := backend.NewConsumer(cfg)
				Expect(err).To(MatchError(ContainSubstring(msg)))
				Expect(c).To(BeNil())
			},
			Entry("logger", func(c *backend.ConsumerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("store", func(c *backend.ConsumerConfig) { c.Store = nil }, "store cannot be nil"),
			Entry("client", func(c *backend.ConsumerConfig) { c.Client = nil }, "mq client cannot be nil"),
			Entry("queue", func(c *backend.ConsumerConfig) { c.QueueName = "" }, "queue name cannot be empty"),
		)

		It("rejects a nil config", func() {
			_, err := backend.NewConsumer(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
		})
	})

	Describe("processing deliveries", func() {
		It("stores every telemetry kind and acks it", func() {
			client.ConsumeChannel = mock.Deliver(ack,
				envelope(&store.PhaseCurrentSample{Timestamp: now, AssetID: vim, PhaseA: 1.2, PhaseB: 1.3, PhaseC: 1.1}),
				envelope(&store.ControllerSample{Timestamp: now, AssetID: vim, ControllerID: "ctrl_1", Voltage: 24, Current: 0.3}),
				envelope(&store.TransitionEvent{Timestamp: now, AssetID: vim, StartPosition: "normal", EndPosition: "reverse", DurationSeconds: 6}),
				envelope(&store.Alert{Timestamp: now, AssetID: vim, AlertType: "phase_current_high", Severity: store.SeverityCritical, Value: 7.5}),
				envelope(&store.MaintenanceRecord{Timestamp: now, AssetID: vim, Type: "preventive", WearBefore: 0.5, WearAfter: 0.1}),
			)

			c := newConsumer(mem)
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(c.Done()).Should(BeClosed())

			Expect(ack.Acked).To(Equal([]uint64{1, 2, 3, 4, 5}))
			Expect(ack.Nacked).To(BeEmpty())

			phases, err := mem.RecentPhaseCurrents(ctx, vim, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(phases).To(HaveLen(1))
			Expect(phases[0].PhaseB).To(Equal(1.3))

			ctrls, _ := mem.RecentControllerSamples(ctx, vim, "ctrl_1", 0)
			Expect(ctrls).To(HaveLen(1))
			transitions, _ := mem.RecentTransitions(ctx, vim, "", "", 0)
			Expect(transitions).To(HaveLen(1))
			alerts, _ := mem.Alerts(ctx, store.AlertFilter{AssetID: vim})
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Value).To(Equal(7.5))
			records, _ := mem.MaintenanceHistory(ctx, vim, 0)
			Expect(records).To(HaveLen(1))
		})

		It("acks and drops undecodable messages", func() {
			client.ConsumeChannel = mock.Deliver(ack,
				[]byte("not a protobuf envelope"),
				envelope(&store.PhaseCurrentSample{Timestamp: now, AssetID: vim}),
			)

			c := newConsumer(mem)
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(c.Done()).Should(BeClosed())

			acked, nacked := ack.Counts()
			Expect(acked).To(Equal(2))
			Expect(nacked).To(BeZero())
			phases, _ := mem.RecentPhaseCurrents(ctx, vim, 0)
			Expect(phases).To(HaveLen(1))
		})

		It("requeues messages the store rejects", func() {
			client.ConsumeChannel = mock.Deliver(ack,
				envelope(&store.PhaseCurrentSample{Timestamp: now, AssetID: vim}),
				envelope(&store.ControllerSample{Timestamp: now, AssetID: vim, ControllerID: "ctrl_2"}),
			)

			c := newConsumer(flakyStore{Store: mem})
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(c.Done()).Should(BeClosed())

			Expect(ack.Nacked).To(Equal([]uint64{1}))
			Expect(ack.Acked).To(Equal([]uint64{2}))
		})

		It("stops when the context is canceled", func() {
			client.ConsumeChannel = make(chan amqp.Delivery)

			c := newConsumer(mem)
			Expect(c.Start(ctx)).To(Succeed())
			Consistently(c.Done(), 20*time.Millisecond).ShouldNot(BeClosed())

			cancel()
			Eventually(c.Done()).Should(BeClosed())
			Expect(c.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
		})
	})

	Describe("Start", func() {
		It("retries until the client can consume", func() {
			attempts := 0
			client.ConsumeFunc = func() (<-chan amqp.Delivery, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("not connected")
				}
				return mock.Deliver(ack), nil
			}

			c := newConsumer(mem)
			Expect(c.Start(ctx)).To(Succeed())
			Expect(client.ConsumeCalls).To(Equal(3))
			Eventually(c.Done()).Should(BeClosed())
		})

		It("gives up when the context ends before the client connects", func() {
			client.ConsumeError = errors.New("not connected")
			client.ConsumeChannel = nil

			c := newConsumer(mem)
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
			err := c.Start(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})
	})

	Describe("Stop", func() {
		It("closes the client without waiting when never started", func() {
			c := newConsumer(mem)
			Expect(c.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
		})

		It("reports client close failures", func() {
			client.CloseError = errors.New("channel already closed")
			c := newConsumer(mem)
			Expect(c.Stop()).To(MatchError(ContainSubstring("failed to close mq client")))
		})
	})
})
