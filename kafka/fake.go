package kafka

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/squareup/flowbase/errors"
)

// FakeKafka is an in-process stand-in for a Kafka cluster, used by tests
// (and by a local dev loop that wants ingestion without a real broker).
// Registered globally by ID so GetFakeKafka can find the right instance
// from its ID alone; NewFakeMessageProviderFactory itself takes the
// *FakeKafka directly.
type FakeKafka struct {
	ID int64

	mu     sync.Mutex
	topics map[string]*Topic
}

var (
	fakeKafkaSeq int64
	fakeKafkas   sync.Map // int64 -> *FakeKafka
)

func NewFakeKafka() *FakeKafka {
	id := atomic.AddInt64(&fakeKafkaSeq, 1)
	fk := &FakeKafka{ID: id, topics: make(map[string]*Topic)}
	fakeKafkas.Store(id, fk)
	return fk
}

func GetFakeKafka(id int64) (*FakeKafka, bool) {
	v, ok := fakeKafkas.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*FakeKafka), true
}

func (fk *FakeKafka) CreateTopic(name string, numPartitions int) (*Topic, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if _, ok := fk.topics[name]; ok {
		return nil, errors.Errorf("kafka: topic %q already exists", name)
	}
	t := &Topic{
		Name:       name,
		partitions: make([]*partitionLog, numPartitions),
		groups:     make(map[string]*group),
	}
	for i := range t.partitions {
		t.partitions[i] = &partitionLog{}
	}
	fk.topics[name] = t
	return t, nil
}

func (fk *FakeKafka) DeleteTopic(name string) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if _, ok := fk.topics[name]; !ok {
		return errors.Errorf("kafka: topic %q does not exist", name)
	}
	delete(fk.topics, name)
	return nil
}

func (fk *FakeKafka) GetTopicNames() []string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	names := make([]string, 0, len(fk.topics))
	for name := range fk.topics {
		names = append(names, name)
	}
	return names
}

func (fk *FakeKafka) GetTopic(name string) (*Topic, bool) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	t, ok := fk.topics[name]
	return t, ok
}

// IngestMessage appends msg to topicName, round-robin across its
// partitions — standing in for a producer's partitioner.
func (fk *FakeKafka) IngestMessage(topicName string, msg *Message) error {
	fk.mu.Lock()
	t, ok := fk.topics[topicName]
	fk.mu.Unlock()
	if !ok {
		return errors.Errorf("kafka: topic %q does not exist", topicName)
	}
	return t.ingest(msg)
}

// partitionLog is one append-only, in-memory partition log.
type partitionLog struct {
	mu       sync.Mutex
	messages []*Message
}

func (p *partitionLog) append(msg *Message) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset := int64(len(p.messages))
	p.messages = append(p.messages, msg)
	return offset
}

func (p *partitionLog) at(offset int) (*Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset >= len(p.messages) {
		return nil, false
	}
	return p.messages[offset], true
}

// Topic is one named topic with a fixed partition count, mirroring the
// "partitions assigned statically across a group's subscribers" model
// real Kafka consumer groups use (minus rebalancing on join/leave mid-
// stream, not needed for a fake that only ever grows a group at setup).
type Topic struct {
	Name string

	mu         sync.Mutex
	partitions []*partitionLog
	groups     map[string]*group
	nextPart   int64
}

func (t *Topic) ingest(msg *Message) error {
	idx := int(atomic.AddInt64(&t.nextPart, 1)-1) % len(t.partitions)
	msg.PartInfo.PartitionID = int32(idx)
	p := t.partitions[idx]
	msg.PartInfo.Offset = p.append(msg)
	return nil
}

func (t *Topic) getGroup(groupID string) (*group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[groupID]
	return g, ok
}

// CreateSubscriber joins groupID (creating it if this is its first
// member), statically re-partitioning the topic's partitions round-robin
// across every current member of the group.
func (t *Topic) CreateSubscriber(groupID string) (*Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[groupID]
	if !ok {
		g = &group{}
		t.groups[groupID] = g
	}
	sub := &Subscriber{topic: t, offsets: make(map[int]int)}
	g.subscribers = append(g.subscribers, sub)
	// A new member changes every subscriber's assignment, so recompute
	// the whole group's partition ownership from scratch each time.
	for _, s := range g.subscribers {
		s.assigned = nil
		s.offsets = make(map[int]int)
	}
	for i, p := range t.partitions {
		owner := g.subscribers[i%len(g.subscribers)]
		owner.assigned = append(owner.assigned, partAssignment{index: i, log: p})
	}
	return sub, nil
}

type group struct {
	subscribers []*Subscriber
}

type partAssignment struct {
	index int
	log   *partitionLog
}

// Subscriber reads only its statically-assigned partitions, round-robin,
// tracking its own per-partition read offset.
type Subscriber struct {
	topic    *Topic
	assigned []partAssignment
	next     int
	offsets  map[int]int
}

// NewFakeMessageProviderFactory builds a MessageProviderFactory reading
// from fk's topic, the fake counterpart to
// NewCfltMessageProviderFactory — used by push/source tests that want
// ingestion behavior exercised without a real broker.
func NewFakeMessageProviderFactory(fk *FakeKafka, topicName, groupID string) MessageProviderFactory {
	return &fakeMessageProviderFactory{fk: fk, topicName: topicName, groupID: groupID}
}

type fakeMessageProviderFactory struct {
	fk        *FakeKafka
	topicName string
	groupID   string
}

func (f *fakeMessageProviderFactory) NewMessageProvider() (MessageProvider, error) {
	t, ok := f.fk.GetTopic(f.topicName)
	if !ok {
		return nil, errors.Errorf("kafka: topic %q does not exist", f.topicName)
	}
	return &fakeMessageProvider{topic: t, groupID: f.groupID}, nil
}

type fakeMessageProvider struct {
	topic   *Topic
	groupID string
	sub     *Subscriber
}

func (f *fakeMessageProvider) Start() error {
	sub, err := f.topic.CreateSubscriber(f.groupID)
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

func (f *fakeMessageProvider) GetMessage(pollTimeout time.Duration) (*Message, error) {
	return f.sub.GetMessage(pollTimeout)
}

// CommitOffsets is a no-op: fakeMessageProvider never needs to recover
// committed offsets across a restart, it only ever lives as long as one
// test process.
func (f *fakeMessageProvider) CommitOffsets(map[int32]int64) error { return nil }

func (f *fakeMessageProvider) Stop() error  { return nil }
func (f *fakeMessageProvider) Close() error { return nil }

func (s *Subscriber) GetMessage(pollTimeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		for i := 0; i < len(s.assigned); i++ {
			idx := (s.next + i) % len(s.assigned)
			pa := s.assigned[idx]
			off := s.offsets[pa.index]
			if msg, ok := pa.log.at(off); ok {
				s.offsets[pa.index] = off + 1
				s.next = (idx + 1) % len(s.assigned)
				return msg, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}
