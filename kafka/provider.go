// Package kafka stands in for the teacher's push/sched and kv-offset
// scaffolding around its Kafka client: just the MessageProvider
// boundary spec.md §6.11's ingestion adapter sits behind, plus a real
// (confluent-kafka-go) and a fake (in-process) implementation of it.
package kafka

import "time"

// MessageHeader is one Kafka record header.
type MessageHeader struct {
	Key   string
	Value []byte
}

// PartInfo identifies one message's position in its topic.
type PartInfo struct {
	PartitionID int32
	Offset      int64
}

// Message is one ingested Kafka record, decoupled from
// confluent-kafka-go's own wire type so push/source's parser and the
// fake provider below don't need the real client library.
type Message struct {
	PartInfo  PartInfo
	TimeStamp time.Time
	Key       []byte
	Value     []byte
	Headers   []MessageHeader
}

// MessageProvider is push/source's whole view of a Kafka consumer group
// member: poll for the next message, commit consumed offsets, and tear
// down. cflt_client.go's confluent-kafka-go-backed type and fake.go's
// in-memory type both implement it.
type MessageProvider interface {
	// Start begins delivering messages (a no-op for the confluent
	// implementation, which subscribes at construction time; present so
	// the fake provider has a point to attach its subscription at).
	Start() error

	// GetMessage returns the next available message, or (nil, nil) if
	// none arrived within pollTimeout.
	GetMessage(pollTimeout time.Duration) (*Message, error)

	// CommitOffsets acknowledges every message up to and including
	// offsetsMap[partition] - 1 as durably processed.
	CommitOffsets(offsetsMap map[int32]int64) error

	// Stop halts delivery. The confluent implementation unsubscribes
	// (its Start does not resubscribe); the fake's Stop is a no-op.
	Stop() error

	// Close tears the subscription down for good.
	Close() error
}

// MessageProviderFactory constructs one MessageProvider per
// MessageConsumer — matching cflt_client.go's factory indirection, which
// lets push/source build a fresh consumer per source without knowing
// whether it talks to a real broker or FakeKafka.
type MessageProviderFactory interface {
	NewMessageProvider() (MessageProvider, error)
}
