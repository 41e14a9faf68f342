package nitros

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nitros-io/nitros/internal/compress"
	"github.com/nitros-io/nitros/internal/discovery"
	"github.com/nitros-io/nitros/internal/latest"
	"github.com/nitros-io/nitros/internal/nlog"
	"github.com/nitros-io/nitros/internal/supervisor"
	"github.com/nitros-io/nitros/internal/transport"
	"github.com/nitros-io/nitros/internal/wire"
)

// Endpoint identifies a publisher's transport address, as reported by discovery.
type Endpoint = supervisor.Endpoint

const dispatchPollInterval = 100 * time.Millisecond

// Subscriber discovers every publisher of a topic, maintains one supervised
// connection per publisher, and delivers the most recent payload received
// across all of them to callback. Because only the latest payload survives
// between dispatch ticks, a slow callback never backs up memory, but it can
// see fewer messages than were sent (see internal/latest).
type Subscriber struct {
	topic    string
	callback func(wire.Value)

	mu    sync.Mutex
	conns map[string]*supervisor.Supervisor

	slot    *latest.Slot
	browser *discovery.Browser

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSubscriber discovers and connects to every current and future publisher
// of topic, invoking callback with each decoded value.
func NewSubscriber(topic string, callback func(wire.Value), opts ...SubscriberOption) (*Subscriber, error) {
	cfg := subscriberConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log {
		nlog.Enable()
	}

	s := &Subscriber{
		topic:    topic,
		callback: callback,
		conns:    make(map[string]*supervisor.Supervisor),
		slot:     latest.New(),
		stopCh:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.dispatchWorker()

	browser, err := discovery.Browse(context.Background(), topic, s.onFound, s.onRemoved)
	if err != nil {
		close(s.stopCh)
		joinWithDeadline(&s.wg, closeJoinDeadline)
		return nil, err
	}
	s.browser = browser

	nlog.Debug("subscriber started", "topic", topic)
	return s, nil
}

func endpointKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// onFound starts a supervised connection to a newly discovered publisher.
func (s *Subscriber) onFound(host string, port int) {
	key := endpointKey(host, port)

	s.mu.Lock()
	if _, exists := s.conns[key]; exists {
		s.mu.Unlock()
		return
	}
	sup := supervisor.New(supervisor.Endpoint{Host: host, Port: port}, func() (*transport.Client, error) {
		return transport.Dial(host, port, s.slot.Set)
	})
	s.conns[key] = sup
	s.mu.Unlock()

	nlog.Debug("subscriber discovered publisher", "topic", s.topic, "host", host, "port", port)
	sup.Start()
}

// onRemoved stops the supervised connection for a publisher that has
// disappeared from discovery.
func (s *Subscriber) onRemoved(host string, port int) {
	key := endpointKey(host, port)

	s.mu.Lock()
	sup, exists := s.conns[key]
	if exists {
		delete(s.conns, key)
	}
	s.mu.Unlock()

	if exists {
		nlog.Debug("subscriber lost publisher", "topic", s.topic, "host", host, "port", port)
		sup.Stop()
	}
}

func (s *Subscriber) dispatchWorker() {
	defer s.wg.Done()
	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.slot.Notify():
			s.dispatchOne()
		case <-ticker.C:
			s.dispatchOne()
		}
	}
}

// dispatchOne drains the latest-wins slot (if anything is there) and
// delivers it to the user callback.
func (s *Subscriber) dispatchOne() {
	payload, ok := s.slot.Take()
	if !ok || len(payload) == 0 {
		return
	}
	header := payload[0]
	if header&0xFC != 0 {
		nlog.Warn("subscriber dropped payload with reserved flag bits set", "topic", s.topic, "flags", header)
		return
	}
	body := payload[1:]

	var (
		value wire.Value
		err   error
	)
	switch header & 0x03 {
	case 0x00:
		value, err = wire.Decode(body)
	case 0x01:
		value, err = compress.DecompressImage(body)
	case 0x02:
		value, err = compress.DecompressPointcloud(body)
	default:
		nlog.Warn("subscriber dropped payload with unknown flags", "topic", s.topic, "flags", header)
		return
	}
	if err != nil {
		nlog.Warn("subscriber failed to decode payload", "topic", s.topic, "error", err)
		return
	}
	s.invokeCallback(value)
}

// invokeCallback runs the user-supplied callback, containing any panic so a
// single bad handler invocation cannot take down the dispatch worker.
func (s *Subscriber) invokeCallback(v wire.Value) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Error("subscriber callback panicked", "topic", s.topic, "recovered", r)
		}
	}()
	s.callback(v)
}

// Close stops discovery, the dispatch worker, and every supervised
// connection. Idempotent.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			s.browser.Close()
		}
		close(s.stopCh)
		joinWithDeadline(&s.wg, closeJoinDeadline)

		s.mu.Lock()
		conns := s.conns
		s.conns = make(map[string]*supervisor.Supervisor)
		s.mu.Unlock()

		var wg sync.WaitGroup
		for _, sup := range conns {
			wg.Add(1)
			go func(sup *supervisor.Supervisor) {
				defer wg.Done()
				stopped := make(chan struct{})
				go func() {
					sup.Stop()
					close(stopped)
				}()
				select {
				case <-stopped:
				case <-time.After(closeJoinDeadline):
				}
			}(sup)
		}
		wg.Wait()

		nlog.Debug("subscriber closed", "topic", s.topic)
	})
	return nil
}
