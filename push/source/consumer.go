package source

import (
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/squareup/flowbase/kafka"
)

// MessageConsumer polls one kafka.MessageProvider in a loop, decodes each
// batch through a MessageParser, and hands the parsed rows to its Source
// for insertion — same poll/parse/insert/commit loop as the teacher's
// push/source.MessageConsumer, generalized from its ShardScheduler-routed
// dispatch (one consumer fans rows out to many shards) to flowbase's
// single-domain-per-table model (one consumer, one table, no fan-out).
type MessageConsumer struct {
	msgProvider             kafka.MessageProvider
	pollTimeout             time.Duration
	maxMessages             int
	source                  *Source
	parser                  *MessageParser
	startupCommittedOffsets map[int32]int64

	loopCh  chan struct{}
	running int32
}

// NewMessageConsumer builds and starts a consumer reading source's topic
// from msgProvider, resuming from startupCommitOffsets (the last offsets
// committed before a restart, so duplicate-delivery is detected rather
// than silently reprocessed).
func NewMessageConsumer(msgProvider kafka.MessageProvider, pollTimeout time.Duration, maxMessages int,
	source *Source, startupCommitOffsets map[int32]int64) (*MessageConsumer, error) {
	parser, err := NewMessageParser(source.sourceInfo)
	if err != nil {
		return nil, err
	}
	lcm := make(map[int32]int64, len(startupCommitOffsets))
	for k, v := range startupCommitOffsets {
		lcm[k] = v
	}
	mc := &MessageConsumer{
		msgProvider:             msgProvider,
		pollTimeout:             pollTimeout,
		maxMessages:             maxMessages,
		source:                  source,
		parser:                  parser,
		startupCommittedOffsets: lcm,
		loopCh:                  make(chan struct{}, 1),
	}
	source.SetConsumer(mc)
	if err := msgProvider.Start(); err != nil {
		return nil, err
	}
	mc.start()
	return mc, nil
}

func (m *MessageConsumer) start() {
	atomic.StoreInt32(&m.running, 1)
	go m.pollLoop()
}

// Stop halts the poll loop and pauses the underlying subscription,
// blocking until pollLoop has actually exited so a caller can safely
// Close right after.
func (m *MessageConsumer) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return nil
	}
	<-m.loopCh
	return m.msgProvider.Stop()
}

func (m *MessageConsumer) Close() error {
	return m.msgProvider.Close()
}

func (m *MessageConsumer) consumerError(err error, clientError bool) {
	if serr := m.msgProvider.Stop(); serr != nil {
		log.Errorf("source consumer: failed to stop message provider: %v", serr)
	}
	go m.source.consumerError(err, clientError)
}

func (m *MessageConsumer) pollLoop() {
	defer func() { m.loopCh <- struct{}{} }()
	for atomic.LoadInt32(&m.running) == 1 {
		msgs, offsetsToCommit, err := m.getBatch(m.pollTimeout, m.maxMessages)
		if err != nil {
			m.consumerError(err, true)
			return
		}
		if len(msgs) != 0 {
			rows := make([]ParsedRow, 0, len(msgs))
			for _, msg := range msgs {
				row, perr := m.parser.Parse(msg)
				if perr != nil {
					m.consumerError(perr, false)
					return
				}
				rows = append(rows, row)
			}
			if err := m.source.handleMessages(rows); err != nil {
				m.consumerError(err, false)
				return
			}
		}
		if len(offsetsToCommit) != 0 {
			if err := m.msgProvider.CommitOffsets(offsetsToCommit); err != nil {
				m.consumerError(err, true)
				return
			}
		}
	}
}

// getBatch polls until maxRecords messages have arrived or pollTimeout
// elapses overall, skipping any message below the offset already
// committed at startup, i.e. one already applied (a node can crash after
// committing in flowbase but before committing in Kafka, redelivering a
// message already applied). A committed offset names the next message
// still to process, so the message at that offset is kept.
func (m *MessageConsumer) getBatch(pollTimeout time.Duration, maxRecords int) ([]*kafka.Message, map[int32]int64, error) {
	start := time.Now()
	remaining := pollTimeout
	var msgs []*kafka.Message
	offsetsToCommit := make(map[int32]int64)
	for len(msgs) < maxRecords {
		msg, err := m.msgProvider.GetMessage(remaining)
		if err != nil {
			return nil, nil, err
		}
		if msg == nil {
			break
		}
		partID := msg.PartInfo.PartitionID
		lastOffset, ok := m.startupCommittedOffsets[partID]
		if !ok {
			lastOffset = -1
		} else {
			lastOffset--
		}
		offsetsToCommit[partID] = msg.PartInfo.Offset + 1
		if msg.PartInfo.Offset <= lastOffset {
			log.Warnf("source consumer: duplicate delivery of partition %d offset %d, ignoring", partID, msg.PartInfo.Offset)
			break
		}
		msgs = append(msgs, msg)
		remaining = pollTimeout - time.Since(start)
		if remaining <= 0 {
			break
		}
	}
	return msgs, offsetsToCommit, nil
}
