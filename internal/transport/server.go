// Package transport implements the framed TCP transport: a length-prefixed
// broadcast server and a single-stream client, generalized from a
// chunked-protocol accept-loop/writer-queue shape down to this system's flat
// 4-byte-length-prefix framing.
package transport

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nitros-io/nitros/internal/bufpool"
	"github.com/nitros-io/nitros/internal/nerrors"
	"github.com/nitros-io/nitros/internal/nlog"
)

// HighWaterMarkBytes bounds how many bytes may sit queued for a single slow
// writer before Broadcast starts skipping it for subsequent frames.
const HighWaterMarkBytes = 4 * 1024 * 1024

// writerQueueCapacity is the per-writer channel depth. Combined with typical
// frame sizes this channel's fullness is the practical backpressure signal;
// the pending-byte counter below is the authoritative one named by the
// high-water-mark rule.
const writerQueueCapacity = 256

type serverWriter struct {
	id      uint64
	conn    net.Conn
	queue   chan []byte
	pending int64 // atomic: bytes currently queued or in-flight
}

// Server binds a TCP listener and broadcasts framed payloads to every
// currently connected writer, applying per-writer backpressure.
type Server struct {
	host string
	port int

	mu       sync.Mutex
	listener net.Listener
	writers  map[uint64]*serverWriter
	nextID   uint64
	closed   bool

	acceptWg sync.WaitGroup
}

// NewServer constructs an unstarted Server bound to host:port. Pass port 0 to
// have Start pick an ephemeral port.
func NewServer(host string, port int) *Server {
	return &Server{
		host:    host,
		port:    port,
		writers: make(map[uint64]*serverWriter),
	}
}

// Start binds the listener and launches the accept loop, returning the
// actual bound port (useful when the caller requested port 0).
func (s *Server) Start() (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return 0, nerrors.NewTransportError("transport.Server.Start", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	actual := ln.Addr().(*net.TCPAddr).Port
	s.acceptWg.Add(1)
	go s.acceptLoop()
	return actual, nil
}

func (s *Server) acceptLoop() {
	defer s.acceptWg.Done()
	for {
		s.mu.Lock()
		ln := s.listener
		closed := s.closed
		s.mu.Unlock()
		if ln == nil || closed {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closed
			s.mu.Unlock()
			if closing {
				return
			}
			nlog.Warn("transport server accept error", "error", err)
			return
		}
		s.addWriter(conn)
	}
}

func (s *Server) addWriter(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	id := s.nextID
	s.nextID++
	w := &serverWriter{id: id, conn: conn, queue: make(chan []byte, writerQueueCapacity)}
	s.writers[id] = w
	s.mu.Unlock()

	go s.writeLoop(w)
	go s.readLoop(w)
}

// readLoop discards every byte received from the client; its only purpose is
// to detect EOF / connection loss.
func (s *Server) readLoop(w *serverWriter) {
	buf := bufpool.Get(4096)
	defer bufpool.Put(buf)
	for {
		if _, err := w.conn.Read(buf); err != nil {
			s.removeWriter(w)
			return
		}
	}
}

func (s *Server) writeLoop(w *serverWriter) {
	for frame := range w.queue {
		n := len(frame)
		if _, err := w.conn.Write(frame); err != nil {
			atomic.AddInt64(&w.pending, -int64(n))
			s.removeWriter(w)
			return
		}
		atomic.AddInt64(&w.pending, -int64(n))
	}
}

func (s *Server) removeWriter(w *serverWriter) {
	s.mu.Lock()
	_, ok := s.writers[w.id]
	if ok {
		delete(s.writers, w.id)
	}
	s.mu.Unlock()
	if ok {
		close(w.queue)
		_ = w.conn.Close()
	}
}

// Broadcast writes a length-prefixed frame to every current writer. A writer
// whose pending byte count already exceeds HighWaterMarkBytes is skipped for
// this broadcast — no error, no disconnect. Broadcast never blocks on flush.
func (s *Server) Broadcast(payload []byte) {
	frame := frameEnvelope(payload)

	s.mu.Lock()
	writers := make([]*serverWriter, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.mu.Unlock()

	for _, w := range writers {
		if atomic.LoadInt64(&w.pending) > HighWaterMarkBytes {
			continue
		}
		atomic.AddInt64(&w.pending, int64(len(frame)))
		select {
		case w.queue <- frame:
		default:
			atomic.AddInt64(&w.pending, -int64(len(frame)))
			nlog.Debug("transport writer queue full, skipping frame", "writer_id", w.id)
		}
	}
}

// WriterCount returns the number of currently connected writers.
func (s *Server) WriterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writers)
}

// Close stops accepting new connections, closes every writer, and waits for
// the accept loop to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	writers := make([]*serverWriter, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.writers = make(map[uint64]*serverWriter)
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, w := range writers {
		close(w.queue)
		_ = w.conn.Close()
	}
	s.acceptWg.Wait()
	return nil
}

func frameEnvelope(payload []byte) []byte {
	if len(payload) == 0 {
		// Callers always pass a non-empty flags+body payload; guard anyway
		// since an empty frame would otherwise violate the L>=1 invariant.
		payload = []byte{0x00}
	}
	out := make([]byte, 4+len(payload))
	l := uint32(len(payload))
	out[0] = byte(l >> 24)
	out[1] = byte(l >> 16)
	out[2] = byte(l >> 8)
	out[3] = byte(l)
	copy(out[4:], payload)
	return out
}
