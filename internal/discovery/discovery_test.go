package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestEntryTopicAndCompressionExtraction(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Text: []string{"topic=camera/front", "compression=image"},
		},
	}
	if got := entryTopic(entry); got != "camera/front" {
		t.Fatalf("unexpected topic: %q", got)
	}
	if got := entryCompression(entry); got != "image" {
		t.Fatalf("unexpected compression: %q", got)
	}
}

func TestEntryTopicMissingReturnsEmpty(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Text: []string{"compression="}},
	}
	if got := entryTopic(entry); got != "" {
		t.Fatalf("expected empty topic, got %q", got)
	}
}

func TestFirstIPv4PrefersFirstEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.10"), net.ParseIP("192.168.1.11")},
	}
	if got := firstIPv4(entry); got != "192.168.1.10" {
		t.Fatalf("unexpected host: %q", got)
	}
}

func TestFirstIPv4EmptyWhenNoAddresses(t *testing.T) {
	entry := &zeroconf.ServiceEntry{}
	if got := firstIPv4(entry); got != "" {
		t.Fatalf("expected empty host, got %q", got)
	}
}

func TestSanitizeInstanceReplacesSlashes(t *testing.T) {
	if got := sanitizeInstance("camera/front"); got != "camera_front" {
		t.Fatalf("unexpected sanitized instance: %q", got)
	}
}
