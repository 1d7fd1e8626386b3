// Package source wires a kafka.MessageProvider into a controller table,
// decoding each Kafka record into the row values controller.TableHandle.Insert
// expects — spec.md §6.11's ingestion adapter.
package source

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/squareup/flowbase/common"
)

// TopicInfo names the broker-side topic a Source reads, the part of a
// recipe's CREATE TABLE ... WITH ... that the parser hands off verbatim
// rather than interpreting.
type TopicInfo struct {
	TopicName   string
	GroupID     string
	Props       map[string]string
	PollTimeout time.Duration
	MaxBatch    int
}

// SourceInfo is the schema a Source decodes incoming messages against:
// one JSON object per message, keyed by column name.
type SourceInfo struct {
	SchemaName  string
	Name        string
	ColumnNames []string
	ColumnTypes []common.ColumnType
	TopicInfo   TopicInfo
}

// tableWriter is the controller.TableHandle.Insert surface a Source needs,
// named here as a small interface instead of importing controller, so any
// single-row writer (a test's recording table included) can stand in.
type tableWriter interface {
	Insert(values ...interface{}) error
}

// errorHandler is notified when a Source's consumer gives up permanently
// (a client error, or the table rejected a well-formed batch).
type errorHandler func(sourceName string, err error, clientError bool)

// Source owns one MessageConsumer feeding one controller table.
type Source struct {
	sourceInfo SourceInfo
	table      tableWriter
	onError    errorHandler

	mu       sync.Mutex
	consumer *MessageConsumer
}

// NewSource builds a Source but does not start consuming; consumption
// begins when NewMessageConsumer attaches itself via SetConsumer and
// starts its poll loop, mirroring the teacher's two-phase setup (source
// registered before its consumer exists, since the consumer needs a
// *Source back-reference for error delivery).
func NewSource(info SourceInfo, table tableWriter, onError errorHandler) *Source {
	return &Source{sourceInfo: info, table: table, onError: onError}
}

func (s *Source) SetConsumer(c *MessageConsumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = c
}

func (s *Source) Stop() error {
	s.mu.Lock()
	c := s.consumer
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Stop()
}

// handleMessages inserts one polled, already-parsed batch, in offset
// order, as individual single-row inserts — table_exec.go's ingestion
// path has no notion of a multi-row batch transaction, so each message
// either lands or the rest of the batch is abandoned at the first
// failure. The caller then commits no offsets for the batch, so rows
// already inserted from it are delivered again (at-least-once delivery).
func (s *Source) handleMessages(rows []ParsedRow) error {
	for _, r := range rows {
		if err := s.table.Insert(r.Values...); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) consumerError(err error, clientError bool) {
	log.Errorf("source %s.%s: consumer error: %v", s.sourceInfo.SchemaName, s.sourceInfo.Name, err)
	if s.onError != nil {
		s.onError(s.sourceInfo.Name, err, clientError)
	}
}
