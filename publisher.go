package nitros

import (
	"errors"
	"sync"
	"time"

	"github.com/nitros-io/nitros/internal/compress"
	"github.com/nitros-io/nitros/internal/discovery"
	"github.com/nitros-io/nitros/internal/nlog"
	"github.com/nitros-io/nitros/internal/transport"
	"github.com/nitros-io/nitros/internal/wire"
)

const (
	sendQueueCapacity = 10
	waitPollInterval  = 40 * time.Millisecond // >= 20 Hz
	closeJoinDeadline = 1 * time.Second
)

// ErrTypeHintWithCompression is returned by Send when a type hint is
// supplied on a Publisher constructed with image/pointcloud compression.
// The source implementation silently drops the hint in that case; this
// implementation rejects the combination instead (see DESIGN.md).
var ErrTypeHintWithCompression = errors.New("nitros: type_hint may not be combined with image/pointcloud compression")

type sendItem struct {
	value    wire.Value
	typeHint string
}

// Publisher broadcasts values on a topic to every connected subscriber.
type Publisher struct {
	topic       string
	compression string

	server *transport.Server
	reg    *discovery.Registration

	queue   chan sendItem
	queueMu sync.Mutex
	inDrop  bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPublisher constructs and starts a Publisher for topic: it binds an
// ephemeral framed-transport listener, registers the mDNS-SD record, and
// begins processing the send queue.
func NewPublisher(topic string, opts ...PublisherOption) (*Publisher, error) {
	cfg := publisherConfig{compression: compress.ModeNone}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log {
		nlog.Enable()
	}
	mode, err := compress.New(cfg.compression)
	if err != nil {
		return nil, err
	}

	server := transport.NewServer("0.0.0.0", 0)
	port, err := server.Start()
	if err != nil {
		return nil, err
	}

	reg, err := discovery.Register(topic, port, mode)
	if err != nil {
		_ = server.Close()
		return nil, err
	}

	p := &Publisher{
		topic:       topic,
		compression: mode,
		server:      server,
		reg:         reg,
		queue:       make(chan sendItem, sendQueueCapacity),
		stopCh:      make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sendWorker()

	nlog.Debug("publisher started", "topic", topic, "port", port, "compression", mode)
	return p, nil
}

// Send enqueues value for broadcast. Non-blocking: if the bounded queue
// (capacity 10) is full, the oldest queued item is discarded to make room,
// and an overflow is logged at most once per contiguous overflow episode.
func (p *Publisher) Send(value wire.Value, typeHint string) error {
	if typeHint != "" && p.compression != compress.ModeNone {
		return ErrTypeHintWithCompression
	}
	p.enqueue(sendItem{value: value, typeHint: typeHint})
	return nil
}

func (p *Publisher) enqueue(item sendItem) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	select {
	case p.queue <- item:
		p.inDrop = false
		return
	default:
	}

	select {
	case <-p.queue:
	default:
	}
	if !p.inDrop {
		nlog.Warn("publisher send queue overflow, dropping oldest item", "topic", p.topic)
		p.inDrop = true
	}
	p.queue <- item
}

func (p *Publisher) sendWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case item := <-p.queue:
			p.processSend(item)
		}
	}
}

func (p *Publisher) processSend(item sendItem) {
	var (
		payload []byte
		err     error
	)
	switch p.compression {
	case compress.ModeNone:
		var encoded []byte
		encoded, err = wire.Encode(item.value, item.typeHint)
		if err == nil {
			payload = append([]byte{0x00}, encoded...)
		}
	case compress.ModeImage:
		payload, err = p.compressPayload(0x01, item.value, compress.CompressImage)
	case compress.ModePointcloud:
		payload, err = p.compressPayload(0x02, item.value, compress.CompressPointcloud)
	}
	if err != nil {
		nlog.Warn("publisher send failed", "topic", p.topic, "compression", p.compression, "error", err)
		return
	}
	p.server.Broadcast(payload)
}

func (p *Publisher) compressPayload(flag byte, value wire.Value, fn func(*wire.NDArray) ([]byte, error)) ([]byte, error) {
	arr, ok := value.(*wire.NDArray)
	if !ok {
		return nil, errors.New("nitros: compressed send requires a *wire.NDArray value")
	}
	body, err := fn(arr)
	if err != nil {
		return nil, err
	}
	return append([]byte{flag}, body...), nil
}

// SubscriberCount returns the current number of connected subscribers.
func (p *Publisher) SubscriberCount() int {
	return p.server.WriterCount()
}

// WaitForSubscribers blocks (polling at >= 20 Hz) until SubscriberCount() >= n
// or timeout elapses, returning whether the target was reached.
func (p *Publisher) WaitForSubscribers(n int, timeout time.Duration) bool {
	if p.SubscriberCount() >= n {
		return true
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		<-ticker.C
		if p.SubscriberCount() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// Close stops the send worker, closes the transport server (which closes
// every writer), and unregisters discovery. Idempotent; errors during
// shutdown are swallowed, matching the source's "best-effort close" rule.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		joinWithDeadline(&p.wg, closeJoinDeadline)
		_ = p.server.Close()
		if p.reg != nil {
			p.reg.Close()
		}
		nlog.Debug("publisher closed", "topic", p.topic)
	})
	return nil
}
