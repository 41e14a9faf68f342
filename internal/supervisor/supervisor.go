// Package supervisor implements the per-endpoint connection state machine:
// IDLE -> CONNECTING -> CONNECTED -> BACKOFF -> CONNECTING, any state -> STOPPED.
package supervisor

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nitros-io/nitros/internal/nlog"
	"github.com/nitros-io/nitros/internal/transport"
)

// State is one node of the connection supervisor's state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Endpoint identifies a publisher's transport address, as reported by discovery.
type Endpoint struct {
	Host string
	Port int
}

const (
	resetDwell       = 5 * time.Second
	peerPollInterval = 100 * time.Millisecond
)

// Supervisor owns at most one live client at a time for a single subscriber
// endpoint, reconnecting with exponential backoff on dial failure or peer
// loss.
type Supervisor struct {
	endpoint Endpoint
	dial     func() (*transport.Client, error)

	mu    sync.Mutex
	state State
	bo    *backoff.ExponentialBackOff

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	resetTimerMu sync.Mutex
	resetTimer   *time.Timer
}

// New constructs a Supervisor for endpoint. dial is called each CONNECTING
// attempt and should perform the transport.Dial, wiring the caller's
// onMessage callback.
func New(endpoint Endpoint, dial func() (*transport.Client, error)) *Supervisor {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 32 * time.Second
	b.MaxElapsedTime = 0       // unbounded retries
	b.RandomizationFactor = 0 // deterministic 1,2,4,...,32,32,... sequence
	b.Reset()
	return &Supervisor{
		endpoint: endpoint,
		dial:     dial,
		state:    StateIdle,
		bo:       b,
		stopCh:   make(chan struct{}),
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start launches the supervisor's run loop in a background goroutine.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Supervisor) run() {
	defer s.wg.Done()
	s.setState(StateConnecting)

	for {
		if s.stopRequested() {
			s.setState(StateStopped)
			return
		}

		client, err := s.dial()
		if err != nil {
			nlog.Debug("supervisor dial failed", "host", s.endpoint.Host, "port", s.endpoint.Port, "error", err)
			if !s.backoffWait() {
				s.setState(StateStopped)
				return
			}
			continue
		}

		s.setState(StateConnected)
		s.armResetTimer()
		s.pollUntilLost(client)
		s.disarmResetTimer()
		_ = client.Close()

		if s.stopRequested() {
			s.setState(StateStopped)
			return
		}
		if !s.backoffWait() {
			s.setState(StateStopped)
			return
		}
	}
}

func (s *Supervisor) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// backoffWait transitions to BACKOFF, sleeps for bo.NextBackOff(), then
// returns to CONNECTING. Returns false if stop was requested during the wait.
func (s *Supervisor) backoffWait() bool {
	s.setState(StateBackoff)
	d := s.bo.NextBackOff()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.stopCh:
		return false
	case <-timer.C:
	}
	s.setState(StateConnecting)
	return true
}

// pollUntilLost checks the client's liveness at peerPollInterval until it
// stops running or a stop is requested.
func (s *Supervisor) pollUntilLost(client *transport.Client) {
	ticker := time.NewTicker(peerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !client.Running() {
				return
			}
		}
	}
}

// armResetTimer schedules a backoff reset after resetDwell of uninterrupted
// CONNECTED time: only a connection that survives the dwell counts as
// "recovered" for backoff purposes, avoiding a reset-then-immediately-fail
// churn loop against a flapping peer.
func (s *Supervisor) armResetTimer() {
	s.resetTimerMu.Lock()
	defer s.resetTimerMu.Unlock()
	s.resetTimer = time.AfterFunc(resetDwell, func() {
		s.bo.Reset()
	})
}

func (s *Supervisor) disarmResetTimer() {
	s.resetTimerMu.Lock()
	defer s.resetTimerMu.Unlock()
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

// Stop requests shutdown and blocks until the run loop has fully exited.
// Idempotent.
func (s *Supervisor) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
