// Package nitros implements a brokerless, mDNS-discovered publish/subscribe
// fabric for LAN robotics workloads: publishers broadcast structured or
// compressed payloads over framed TCP to any number of subscribers that
// discover them via mDNS-SD, with automatic reconnect on peer loss.
package nitros
