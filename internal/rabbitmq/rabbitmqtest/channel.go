package rabbitmqtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

// Channel is a client channel on the in-memory broker. It doubles as the
// amqp.Acknowledger of the deliveries it hands out.
type Channel struct {
	broker *Broker
	id     int

	closed      bool
	confirming  bool
	notifyMu    sync.Mutex
	notifyDone  bool
	publishSeq  uint64
	deliveryTag uint64
	prefetch    int
	confirms    []chan amqp.Confirmation
	returns     []chan amqp.Return
	inflight    map[uint64]*inflight
	consumed    map[string]*consumer
}

var (
	_ rabbitmq.Channel  = (*Channel)(nil)
	_ amqp.Acknowledger = (*Channel)(nil)
)

type inflight struct {
	queue    *queue
	msg      *message
	consumer *consumer
}

// consumer buffers deliveries for one basic.consume subscription. A goroutine
// moves them onto the unbuffered out channel so the broker never blocks on a
// slow reader.
type consumer struct {
	tag      string
	channel  *Channel
	prefetch int
	unacked  int
	buf      []amqp.Delivery
	signal   chan struct{}
	out      chan amqp.Delivery
	kill     chan struct{}
	done     bool
}

func (c *consumer) hasCapacity() bool {
	return !c.done && (c.prefetch <= 0 || c.unacked < c.prefetch)
}

// deliver assigns a delivery tag and buffers the message. Callers hold the
// broker lock.
func (c *consumer) deliver(q *queue, m *message) {
	ch := c.channel
	ch.deliveryTag++
	tag := ch.deliveryTag
	ch.inflight[tag] = &inflight{queue: q, msg: m, consumer: c}
	c.unacked++

	c.buf = append(c.buf, ch.delivery(tag, c.tag, m, 0))
	c.wake()
}

func (c *consumer) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *consumer) pump(b *Broker) {
	for {
		b.mu.Lock()
		if len(c.buf) == 0 {
			if c.done {
				b.mu.Unlock()
				close(c.out)
				return
			}
			b.mu.Unlock()
			select {
			case <-c.signal:
			case <-c.kill:
			}
			continue
		}
		d := c.buf[0]
		c.buf = c.buf[1:]
		b.mu.Unlock()

		select {
		case c.out <- d:
		case <-c.kill:
			// The channel is gone; the message was already requeued.
		}
	}
}

func (ch *Channel) delivery(tag uint64, consumerTag string, m *message, remaining int) amqp.Delivery {
	pub := m.pub
	return amqp.Delivery{
		Acknowledger:    ch,
		Headers:         copyTable(pub.Headers),
		ContentType:     pub.ContentType,
		ContentEncoding: pub.ContentEncoding,
		DeliveryMode:    pub.DeliveryMode,
		Priority:        pub.Priority,
		CorrelationId:   pub.CorrelationId,
		ReplyTo:         pub.ReplyTo,
		Expiration:      pub.Expiration,
		MessageId:       pub.MessageId,
		Timestamp:       pub.Timestamp,
		Type:            pub.Type,
		UserId:          pub.UserId,
		AppId:           pub.AppId,
		ConsumerTag:     consumerTag,
		MessageCount:    uint32(remaining),
		DeliveryTag:     tag,
		Redelivered:     m.redelivered,
		Exchange:        m.exchange,
		RoutingKey:      m.routingKey,
		Body:            append([]byte(nil), pub.Body...),
	}
}

// fail closes the channel the way the broker does after a channel-level
// error. Callers hold the broker lock.
func (ch *Channel) fail(err *amqp.Error) error {
	ch.shutdown()
	return err
}

// ExchangeDeclare declares an exchange
func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if err := b.declareExchange(name, kind, durable, autoDelete); err != nil {
		return ch.fail(err.(*amqp.Error))
	}
	return nil
}

// QueueDeclare declares a queue
func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, err := b.declareQueue(name, durable, autoDelete, exclusive, args)
	if err != nil {
		return amqp.Queue{}, ch.fail(err.(*amqp.Error))
	}
	return amqp.Queue{Name: q.name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

// QueueDeclarePassive returns queue counts, failing if the queue is missing
func (ch *Channel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		return amqp.Queue{}, ch.fail(notFound("queue", name))
	}
	return amqp.Queue{Name: q.name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

// QueueBind binds a queue to an exchange
func (ch *Channel) QueueBind(name, key, exchangeName string, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if err := b.bind(name, key, exchangeName); err != nil {
		return ch.fail(err.(*amqp.Error))
	}
	return nil
}

// Qos sets the prefetch count for consumers started afterwards
func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

// Consume starts a manual-ack subscription using the channel's current
// prefetch count.
func (ch *Channel) Consume(queueName, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return nil, ch.fail(notFound("queue", queueName))
	}
	if consumerTag == "" {
		consumerTag = fmt.Sprintf("ctag-%d.%d", ch.id, len(ch.consumed)+1)
	}
	if _, exists := ch.consumed[consumerTag]; exists {
		return nil, ch.fail(&amqp.Error{Code: amqp.NotAllowed, Reason: "NOT_ALLOWED - attempt to reuse consumer tag", Server: true})
	}
	if autoAck {
		return nil, fmt.Errorf("rabbitmqtest: autoAck consumers are not supported")
	}

	c := &consumer{
		tag:      consumerTag,
		channel:  ch,
		prefetch: ch.prefetch,
		signal:   make(chan struct{}, 1),
		out:      make(chan amqp.Delivery),
		kill:     make(chan struct{}),
	}
	ch.consumed[consumerTag] = c
	q.consumers = append(q.consumers, c)
	go c.pump(b)

	b.dispatch(q)
	return c.out, nil
}

// Cancel stops a subscription. Deliveries already handed to the consumer are
// still delivered, then the delivery channel is closed.
func (ch *Channel) Cancel(consumerTag string, noWait bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	c, ok := ch.consumed[consumerTag]
	if !ok {
		return nil
	}
	delete(ch.consumed, consumerTag)
	for _, q := range b.queues {
		q.removeConsumer(c)
	}
	c.done = true
	c.wake()
	return nil
}

// Get synchronously fetches one message
func (ch *Channel) Get(queueName string, autoAck bool) (amqp.Delivery, bool, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Delivery{}, false, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return amqp.Delivery{}, false, ch.fail(notFound("queue", queueName))
	}
	if len(q.ready) == 0 {
		return amqp.Delivery{}, false, nil
	}

	m := q.ready[0]
	q.ready = q.ready[1:]
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}

	ch.deliveryTag++
	tag := ch.deliveryTag
	if !autoAck {
		ch.inflight[tag] = &inflight{queue: q, msg: m}
	}
	return ch.delivery(tag, "", m, len(q.ready)), true, nil
}

// Confirm puts the channel into confirm mode
func (ch *Channel) Confirm(noWait bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirming = true
	return nil
}

// NotifyPublish registers a listener for publisher confirms
func (ch *Channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(confirm)
		return confirm
	}
	ch.confirms = append(ch.confirms, confirm)
	return confirm
}

// NotifyReturn registers a listener for unroutable mandatory messages
func (ch *Channel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(c)
		return c
	}
	ch.returns = append(ch.returns, c)
	return c
}

// PublishWithContext publishes a message. In confirm mode the confirmation
// is sent after any basic.return for the same message.
func (ch *Channel) PublishWithContext(ctx context.Context, exchangeName, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := ch.broker
	b.mu.Lock()

	if ch.closed {
		b.mu.Unlock()
		return amqp.ErrClosed
	}
	if exchangeName != "" {
		if _, ok := b.exchanges[exchangeName]; !ok {
			err := ch.fail(notFound("exchange", exchangeName))
			b.mu.Unlock()
			return err
		}
	}

	ack := true
	routed := false
	if b.hook != nil {
		if err := b.hook(exchangeName, key, msg); err != nil {
			ack = false
		}
	}
	if ack {
		b.recordPublish(exchangeName, key, msg)
		routed = b.route(exchangeName, key, newMessage(exchangeName, key, msg))
	}

	var (
		returns  []chan amqp.Return
		confirms []chan amqp.Confirmation
		seq      uint64
	)
	if ack && !routed && mandatory {
		returns = append(returns, ch.returns...)
	}
	if ch.confirming {
		ch.publishSeq++
		seq = ch.publishSeq
		confirms = append(confirms, ch.confirms...)
	}
	b.mu.Unlock()

	ch.notifyMu.Lock()
	defer ch.notifyMu.Unlock()
	if ch.notifyDone {
		return nil
	}
	for _, r := range returns {
		send(r, amqp.Return{
			ReplyCode:     amqp.NoRoute,
			ReplyText:     "NO_ROUTE",
			Exchange:      exchangeName,
			RoutingKey:    key,
			ContentType:   msg.ContentType,
			CorrelationId: msg.CorrelationId,
			MessageId:     msg.MessageId,
			Headers:       msg.Headers,
			Body:          msg.Body,
		})
	}
	for _, c := range confirms {
		send(c, amqp.Confirmation{DeliveryTag: seq, Ack: ack})
	}
	return nil
}

func send[T any](c chan T, v T) {
	select {
	case c <- v:
	case <-time.After(time.Second):
	}
}

// Ack implements amqp.Acknowledger
func (ch *Channel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, func(f *inflight) {})
}

// Nack implements amqp.Acknowledger
func (ch *Channel) Nack(tag uint64, multiple bool, requeue bool) error {
	return ch.settle(tag, multiple, ch.negative(requeue))
}

// Reject implements amqp.Acknowledger
func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.settle(tag, false, ch.negative(requeue))
}

func (ch *Channel) negative(requeue bool) func(*inflight) {
	return func(f *inflight) {
		if requeue {
			ch.broker.requeue(f.queue, f.msg)
			return
		}
		ch.broker.deadLetter(f.queue, f.msg, "rejected")
	}
}

func (ch *Channel) settle(tag uint64, multiple bool, apply func(*inflight)) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	var tags []uint64
	if multiple {
		for t := range ch.inflight {
			if t <= tag {
				tags = append(tags, t)
			}
		}
	} else {
		if _, ok := ch.inflight[tag]; !ok {
			return ch.fail(&amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag),
				Server: true,
			})
		}
		tags = []uint64{tag}
	}

	touched := make(map[*queue]bool)
	for _, t := range tags {
		f := ch.inflight[t]
		delete(ch.inflight, t)
		if f.consumer != nil {
			f.consumer.unacked--
		}
		apply(f)
		touched[f.queue] = true
	}
	for q := range touched {
		b.dispatch(q)
	}
	return nil
}

// IsClosed reports whether the channel is closed
func (ch *Channel) IsClosed() bool {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	return ch.closed
}

// Close closes the channel, requeueing unacked messages
func (ch *Channel) Close() error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil
	}
	ch.shutdown()
	return nil
}

// shutdown releases everything the channel holds. Callers hold the broker
// lock.
func (ch *Channel) shutdown() {
	b := ch.broker
	ch.closed = true
	delete(b.channels, ch)

	for tag, c := range ch.consumed {
		delete(ch.consumed, tag)
		for _, q := range b.queues {
			q.removeConsumer(c)
		}
		c.done = true
		c.buf = nil
		close(c.kill)
	}

	touched := make(map[*queue]bool)
	for tag, f := range ch.inflight {
		delete(ch.inflight, tag)
		b.requeue(f.queue, f.msg)
		touched[f.queue] = true
	}

	ch.notifyMu.Lock()
	ch.notifyDone = true
	for _, c := range ch.confirms {
		close(c)
	}
	ch.confirms = nil
	for _, r := range ch.returns {
		close(r)
	}
	ch.returns = nil
	ch.notifyMu.Unlock()

	for q := range touched {
		b.dispatch(q)
	}
}
