// Package rabbitmqtest provides an in-memory AMQP 0-9-1 broker for tests.
//
// The broker implements rabbitmq.ChannelSource and models the parts of
// RabbitMQ the pipeline relies on: direct, topic and fanout exchanges, the
// default exchange, durable queue declarations with argument equivalence
// checks, manual acknowledgements with per-consumer prefetch, publisher
// confirms, mandatory returns, per-queue message TTL and dead-lettering with
// x-death bookkeeping.
package rabbitmqtest

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

// Message is a snapshot of a message held by the broker
type Message struct {
	Exchange    string
	RoutingKey  string
	Redelivered bool
	amqp.Publishing
}

// PublishHook inspects a publish before routing. A non-nil error makes the
// broker nack the publish instead of routing it.
type PublishHook func(exchange, routingKey string, msg amqp.Publishing) error

// Broker is an in-memory message broker
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*queue
	channels  map[*Channel]struct{}
	published []Message
	timeScale float64
	openErr   error
	hook      PublishHook
	nextID    int
}

// Option configures the broker
type Option func(*Broker)

// WithTimeScale multiplies every queue TTL by scale, so a 30s retry delay can
// elapse in milliseconds.
func WithTimeScale(scale float64) Option {
	return func(b *Broker) {
		b.timeScale = scale
	}
}

// NewBroker creates an empty broker
func NewBroker(options ...Option) *Broker {
	b := &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		channels:  make(map[*Channel]struct{}),
		timeScale: 1,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

var _ rabbitmq.ChannelSource = (*Broker)(nil)

// OpenChannel implements rabbitmq.ChannelSource
func (b *Broker) OpenChannel() (rabbitmq.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}

	b.nextID++
	ch := &Channel{
		broker:   b,
		id:       b.nextID,
		inflight: make(map[uint64]*inflight),
		consumed: make(map[string]*consumer),
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// FailOpen makes OpenChannel return err until called again with nil
func (b *Broker) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// SetPublishHook installs a hook that runs before every publish
func (b *Broker) SetPublishHook(hook PublishHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

// Publish routes a message as if a client published it on a fresh channel
func (b *Broker) Publish(exchangeName, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if exchangeName != "" {
		if _, ok := b.exchanges[exchangeName]; !ok {
			return notFound("exchange", exchangeName)
		}
	}
	b.recordPublish(exchangeName, routingKey, msg)
	b.route(exchangeName, routingKey, newMessage(exchangeName, routingKey, msg))
	return nil
}

// CloseAllChannels closes every open channel, as a connection loss would.
// Unacked messages go back to their queues.
func (b *Broker) CloseAllChannels() {
	b.mu.Lock()
	channels := make([]*Channel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
}

// Depth returns the number of ready messages in a queue
func (b *Broker) Depth(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.ready)
}

// Unacked returns the number of delivered but unsettled messages of a queue
func (b *Broker) Unacked(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for ch := range b.channels {
		for _, f := range ch.inflight {
			if f.queue.name == queueName {
				n++
			}
		}
	}
	return n
}

// Messages returns the ready messages of a queue, oldest first
func (b *Broker) Messages(queueName string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.snapshot())
	}
	return out
}

// Published returns every message published to the broker, in order
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// HasQueue reports whether a queue has been declared
func (b *Broker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// HasExchange reports whether an exchange has been declared
func (b *Broker) HasExchange(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.exchanges[name]
	return ok
}

// Bindings returns the routing keys binding queueName to exchangeName
func (b *Broker) Bindings(exchangeName, queueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return nil
	}
	var keys []string
	for _, bd := range ex.bindings {
		if bd.queue == queueName {
			keys = append(keys, bd.key)
		}
	}
	return keys
}

// QueueArgs returns a copy of the arguments a queue was declared with
func (b *Broker) QueueArgs(name string) amqp.Table {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	return copyTable(q.args)
}

type exchange struct {
	name       string
	kind       string
	durable    bool
	autoDelete bool
	bindings   []binding
}

type binding struct {
	queue string
	key   string
}

type queue struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
	args       amqp.Table
	ready      []*message
	consumers  []*consumer
	next       int
}

type message struct {
	exchange    string
	routingKey  string
	redelivered bool
	pub         amqp.Publishing
	expiry      *time.Timer
}

func newMessage(exchangeName, routingKey string, pub amqp.Publishing) *message {
	pub.Headers = copyTable(pub.Headers)
	pub.Body = append([]byte(nil), pub.Body...)
	return &message{exchange: exchangeName, routingKey: routingKey, pub: pub}
}

func (m *message) snapshot() Message {
	pub := m.pub
	pub.Headers = copyTable(m.pub.Headers)
	pub.Body = append([]byte(nil), m.pub.Body...)
	return Message{
		Exchange:    m.exchange,
		RoutingKey:  m.routingKey,
		Redelivered: m.redelivered,
		Publishing:  pub,
	}
}

func (b *Broker) recordPublish(exchangeName, routingKey string, msg amqp.Publishing) {
	b.published = append(b.published, newMessage(exchangeName, routingKey, msg).snapshot())
}

// route delivers m to every queue the exchange routes it to and reports
// whether at least one queue received it. Callers hold b.mu.
func (b *Broker) route(exchangeName, routingKey string, m *message) bool {
	if exchangeName == "" {
		q, ok := b.queues[routingKey]
		if !ok {
			return false
		}
		b.enqueue(q, m)
		return true
	}

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return false
	}

	seen := make(map[string]bool)
	for _, bd := range ex.bindings {
		if seen[bd.queue] || !matches(ex.kind, bd.key, routingKey) {
			continue
		}
		q, ok := b.queues[bd.queue]
		if !ok {
			continue
		}
		seen[bd.queue] = true
		copied := newMessage(m.exchange, m.routingKey, m.pub)
		b.enqueue(q, copied)
	}
	return len(seen) > 0
}

func matches(kind, bindingKey, routingKey string) bool {
	switch kind {
	case amqp.ExchangeFanout:
		return true
	case amqp.ExchangeTopic:
		return matchTopic(strings.Split(bindingKey, "."), strings.Split(routingKey, "."))
	default:
		return bindingKey == routingKey
	}
}

// matchTopic implements topic exchange matching: "*" is exactly one word and
// "#" is zero or more words.
func matchTopic(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if matchTopic(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && matchTopic(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchTopic(pattern[1:], words[1:])
	}
}

func (b *Broker) enqueue(q *queue, m *message) {
	q.ready = append(q.ready, m)
	if ttl, ok := intArg(q.args, "x-message-ttl"); ok {
		d := time.Duration(float64(time.Duration(ttl)*time.Millisecond) * b.timeScale)
		m.expiry = time.AfterFunc(d, func() { b.expire(q, m) })
	}
	b.dispatch(q)
}

func (b *Broker) expire(q *queue, m *message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range q.ready {
		if r == m {
			q.ready = append(q.ready[:i:i], q.ready[i+1:]...)
			b.deadLetter(q, m, "expired")
			return
		}
	}
}

// deadLetter republishes m through the queue's dead-letter exchange, the way
// RabbitMQ does, recording the hop in the x-death header. Without a
// dead-letter exchange the message is dropped.
func (b *Broker) deadLetter(q *queue, m *message, reason string) {
	dlx, ok := q.args["x-dead-letter-exchange"].(string)
	if !ok {
		return
	}
	key := m.routingKey
	if k, ok := q.args["x-dead-letter-routing-key"].(string); ok {
		key = k
	}

	pub := m.pub
	pub.Headers = recordDeath(copyTable(m.pub.Headers), q.name, reason, m.exchange, m.routingKey)
	// The per-message expiration is removed once it has been applied.
	pub.Expiration = ""

	b.route(dlx, key, newMessage(dlx, key, pub))
}

func recordDeath(headers amqp.Table, queueName, reason, exchangeName, routingKey string) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}

	deaths, _ := headers["x-death"].([]interface{})
	updated := make([]interface{}, 0, len(deaths)+1)

	var entry amqp.Table
	for _, d := range deaths {
		t, ok := d.(amqp.Table)
		if ok && entry == nil && t["queue"] == queueName && t["reason"] == reason {
			entry = copyTable(t)
			count, _ := intArg(t, "count")
			entry["count"] = count + 1
			entry["time"] = time.Now()
			continue
		}
		updated = append(updated, d)
	}
	if entry == nil {
		entry = amqp.Table{
			"count":        int64(1),
			"reason":       reason,
			"queue":        queueName,
			"time":         time.Now(),
			"exchange":     exchangeName,
			"routing-keys": []interface{}{routingKey},
		}
	}
	headers["x-death"] = append([]interface{}{entry}, updated...)

	if _, ok := headers["x-first-death-queue"]; !ok {
		headers["x-first-death-queue"] = queueName
		headers["x-first-death-reason"] = reason
		headers["x-first-death-exchange"] = exchangeName
	}
	headers["x-last-death-queue"] = queueName
	headers["x-last-death-reason"] = reason
	headers["x-last-death-exchange"] = exchangeName

	return headers
}

// dispatch hands ready messages to consumers with spare prefetch capacity,
// round robin. Callers hold b.mu.
func (b *Broker) dispatch(q *queue) {
	for len(q.ready) > 0 {
		c := q.nextConsumer()
		if c == nil {
			return
		}
		m := q.ready[0]
		q.ready = q.ready[1:]
		if m.expiry != nil {
			m.expiry.Stop()
			m.expiry = nil
		}
		c.deliver(q, m)
	}
}

func (q *queue) nextConsumer() *consumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		c := q.consumers[(q.next+i)%n]
		if c.hasCapacity() {
			q.next = (q.next + i + 1) % n
			return c
		}
	}
	return nil
}

func (q *queue) removeConsumer(c *consumer) {
	for i, existing := range q.consumers {
		if existing == c {
			q.consumers = append(q.consumers[:i:i], q.consumers[i+1:]...)
			break
		}
	}
	if q.next >= len(q.consumers) {
		q.next = 0
	}
}

// requeue puts a message back at the head of its queue
func (b *Broker) requeue(q *queue, m *message) {
	m.redelivered = true
	q.ready = append([]*message{m}, q.ready...)
}

func (b *Broker) declareExchange(name, kind string, durable, autoDelete bool) error {
	if existing, ok := b.exchanges[name]; ok {
		if existing.kind != kind || existing.durable != durable || existing.autoDelete != autoDelete {
			return preconditionFailed(fmt.Sprintf("inequivalent arg for exchange '%s'", name))
		}
		return nil
	}
	b.exchanges[name] = &exchange{name: name, kind: kind, durable: durable, autoDelete: autoDelete}
	return nil
}

func (b *Broker) declareQueue(name string, durable, autoDelete, exclusive bool, args amqp.Table) (*queue, error) {
	if existing, ok := b.queues[name]; ok {
		if existing.durable != durable || existing.autoDelete != autoDelete || existing.exclusive != exclusive {
			return nil, preconditionFailed(fmt.Sprintf("inequivalent flags for queue '%s'", name))
		}
		if !equivalentArgs(existing.args, args) {
			return nil, preconditionFailed(fmt.Sprintf("inequivalent arguments for queue '%s'", name))
		}
		return existing, nil
	}
	q := &queue{
		name:       name,
		durable:    durable,
		autoDelete: autoDelete,
		exclusive:  exclusive,
		args:       copyTable(args),
	}
	b.queues[name] = q
	return q, nil
}

func (b *Broker) bind(queueName, key, exchangeName string) error {
	if _, ok := b.queues[queueName]; !ok {
		return notFound("queue", queueName)
	}
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return notFound("exchange", exchangeName)
	}
	for _, bd := range ex.bindings {
		if bd.queue == queueName && bd.key == key {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, binding{queue: queueName, key: key})
	return nil
}

func preconditionFailed(reason string) *amqp.Error {
	return &amqp.Error{
		Code:   amqp.PreconditionFailed,
		Reason: "PRECONDITION_FAILED - " + reason,
		Server: true,
	}
}

func notFound(kind, name string) *amqp.Error {
	return &amqp.Error{
		Code:   amqp.NotFound,
		Reason: fmt.Sprintf("NOT_FOUND - no %s '%s'", kind, name),
		Server: true,
	}
}

func equivalentArgs(a, b amqp.Table) bool {
	return reflect.DeepEqual(normalizeTable(a), normalizeTable(b))
}

func normalizeTable(t amqp.Table) map[string]interface{} {
	out := make(map[string]interface{}, len(t))
	for k, v := range t {
		if n, ok := toInt64(v); ok {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

func intArg(t amqp.Table, key string) (int64, bool) {
	v, ok := t[key]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	default:
		return 0, false
	}
}

func copyTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	out := make(amqp.Table, len(t))
	for k, v := range t {
		switch val := v.(type) {
		case amqp.Table:
			out[k] = copyTable(val)
		case []interface{}:
			items := make([]interface{}, len(val))
			for i, item := range val {
				if nested, ok := item.(amqp.Table); ok {
					items[i] = copyTable(nested)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}
