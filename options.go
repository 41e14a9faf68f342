package nitros

// PublisherOption configures NewPublisher.
type PublisherOption func(*publisherConfig)

type publisherConfig struct {
	compression string
	log         bool
}

// WithCompression selects a payload compression mode: "image" or
// "pointcloud". The default (unset) sends structured values uncompressed.
func WithCompression(mode string) PublisherOption {
	return func(c *publisherConfig) { c.compression = mode }
}

// WithLog enables process-wide structured logging for the lifetime of the
// process (internal/nlog's enable latch is monotonic: once any Publisher or
// Subscriber passes WithLog(true), logging stays on).
func WithLog(enabled bool) PublisherOption {
	return func(c *publisherConfig) { c.log = enabled }
}

// SubscriberOption configures NewSubscriber.
type SubscriberOption func(*subscriberConfig)

type subscriberConfig struct {
	log bool
}

// WithSubscriberLog enables process-wide structured logging, mirroring
// WithLog for publishers.
func WithSubscriberLog(enabled bool) SubscriberOption {
	return func(c *subscriberConfig) { c.log = enabled }
}
