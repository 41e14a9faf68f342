// Package discovery wraps mDNS-SD publisher registration and topic browsing
// over github.com/grandcat/zeroconf.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"github.com/nitros-io/nitros/internal/nerrors"
	"github.com/nitros-io/nitros/internal/nlog"
)

const (
	serviceType = "_nitros._tcp"
	domain      = "local."
	browseTTL   = 30 * time.Second
)

// Registration is a live mDNS-SD advertisement for one publisher endpoint.
type Registration struct {
	server *zeroconf.Server
}

// Register publishes a service instance for topic on port, advertising its
// compression mode via TXT record. The instance name is
// "<topic>-<8 hex>._nitros._tcp.local.", with "/" in topic replaced by "_"
// (see sanitizeInstance) and the 8 hex chars generated by google/uuid.
func Register(topic string, port int, compression string) (*Registration, error) {
	instance := fmt.Sprintf("%s-%s", sanitizeInstance(topic), uuid.New().String()[:8])
	txt := []string{
		"topic=" + topic,
		"compression=" + compression,
	}
	server, err := zeroconf.Register(instance, serviceType, domain, port, txt, nil)
	if err != nil {
		return nil, nerrors.NewTransportError("discovery.Register", err)
	}
	nlog.Debug("discovery registered", "topic", topic, "instance", instance, "port", port)
	return &Registration{server: server}, nil
}

// Close unregisters the service. Idempotent is not required by the
// underlying library but calling Close twice is harmless here since
// zeroconf.Server.Shutdown tolerates it.
func (r *Registration) Close() {
	if r == nil || r.server == nil {
		return
	}
	r.server.Shutdown()
}

// sanitizeInstance strips characters that don't belong in a DNS-SD instance
// name component; topic names are expected to already be simple slash/word
// strings, so this only guards against the unexpected.
func sanitizeInstance(topic string) string {
	return strings.ReplaceAll(topic, "/", "_")
}

// Browser watches for publishers of a single topic appearing/disappearing.
type Browser struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Browse starts watching for services of the given topic. onFound fires once
// per distinct (host, port) when first observed; onRemoved fires when an
// endpoint stops being refreshed within browseTTL. Both callbacks may be
// invoked from the discovery-internal goroutine; callers must assume
// concurrency.
func Browse(ctx context.Context, topic string, onFound, onRemoved func(host string, port int)) (*Browser, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, nerrors.NewTransportError("discovery.Browse", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	entries := make(chan *zeroconf.ServiceEntry, 16)

	b := &Browser{cancel: cancel}
	b.wg.Add(1)
	go b.watch(browseCtx, topic, entries, onFound, onRemoved)

	if err := resolver.Browse(browseCtx, serviceType, domain, entries); err != nil {
		cancel()
		return nil, nerrors.NewTransportError("discovery.Browse", err)
	}
	return b, nil
}

type seenEntry struct {
	host     string
	port     int
	lastSeen time.Time
}

// watch consumes mDNS browse events, filters by the topic TXT record, and
// turns the library's repeated-announcement stream into found/removed edges
// by tracking last-seen time per endpoint and expiring silently-dropped
// entries after browseTTL.
func (b *Browser) watch(ctx context.Context, topic string, entries <-chan *zeroconf.ServiceEntry, onFound, onRemoved func(string, int)) {
	defer b.wg.Done()

	seen := make(map[string]*seenEntry)
	ticker := time.NewTicker(browseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entryTopic(entry) != topic {
				continue
			}
			host := firstIPv4(entry)
			if host == "" {
				continue
			}
			key := fmt.Sprintf("%s:%d", host, entry.Port)
			if _, exists := seen[key]; !exists {
				onFound(host, entry.Port)
			}
			seen[key] = &seenEntry{host: host, port: entry.Port, lastSeen: time.Now()}
		case now := <-ticker.C:
			for key, e := range seen {
				if now.Sub(e.lastSeen) > browseTTL {
					delete(seen, key)
					onRemoved(e.host, e.port)
				}
			}
		}
	}
}

// entryTopic extracts the "topic=" TXT property from a resolved entry.
func entryTopic(entry *zeroconf.ServiceEntry) string {
	for _, t := range entry.Text {
		if v, ok := strings.CutPrefix(t, "topic="); ok {
			return v
		}
	}
	return ""
}

// entryCompression extracts the "compression=" TXT property from a resolved
// entry.
func entryCompression(entry *zeroconf.ServiceEntry) string {
	for _, t := range entry.Text {
		if v, ok := strings.CutPrefix(t, "compression="); ok {
			return v
		}
	}
	return ""
}

// firstIPv4 returns the dotted-decimal form of the first IPv4 address
// reported for entry, or "" if none is present.
func firstIPv4(entry *zeroconf.ServiceEntry) string {
	for _, ip := range entry.AddrIPv4 {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// Close stops the browse goroutine and releases the resolver context.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.cancel()
	b.wg.Wait()
}

// TopicInfo describes one discovered publisher, used by the CLI's
// `topic list`/`topic info` subcommands.
type TopicInfo struct {
	Topic       string
	Host        string
	Port        int
	Compression string
}

// ListTopics browses all nitros services for timeout and returns every
// distinct publisher observed, regardless of topic.
func ListTopics(ctx context.Context, timeout time.Duration) ([]TopicInfo, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, nerrors.NewTransportError("discovery.ListTopics", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(browseCtx, serviceType, domain, entries); err != nil {
		return nil, nerrors.NewTransportError("discovery.ListTopics", err)
	}

	var (
		mu   sync.Mutex
		out  []TopicInfo
		seen = make(map[string]bool)
	)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := firstIPv4(entry)
			if host == "" {
				continue
			}
			key := fmt.Sprintf("%s:%d", host, entry.Port)
			mu.Lock()
			if !seen[key] {
				seen[key] = true
				out = append(out, TopicInfo{
					Topic:       entryTopic(entry),
					Host:        host,
					Port:        entry.Port,
					Compression: entryCompression(entry),
				})
			}
			mu.Unlock()
		}
	}()
	<-browseCtx.Done()
	wg.Wait()
	return out, nil
}
