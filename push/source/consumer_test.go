package source

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/kafka"
)

// recordingTable is a tableWriter that just remembers every Insert call,
// standing in for controller.TableHandle in isolation from the rest of
// the controller package.
type recordingTable struct {
	mu   sync.Mutex
	rows [][]interface{}
}

func (r *recordingTable) Insert(values ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, values)
	return nil
}

func (r *recordingTable) snapshot() [][]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]interface{}, len(r.rows))
	copy(out, r.rows)
	return out
}

func TestMessageConsumerIngestsIntoTable(t *testing.T) {
	fk := kafka.NewFakeKafka()
	_, err := fk.CreateTopic("orders", 4)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		body := fmt.Sprintf(`{"id": %d, "amount": %d}`, i, i*100)
		require.NoError(t, fk.IngestMessage("orders", &kafka.Message{
			Key:   []byte(fmt.Sprintf("k-%d", i)),
			Value: []byte(body),
		}))
	}

	info := SourceInfo{
		SchemaName:  "public",
		Name:        "orders",
		ColumnNames: []string{"id", "amount"},
		ColumnTypes: []common.ColumnType{common.BigIntColumnType, common.BigIntColumnType},
		TopicInfo:   TopicInfo{TopicName: "orders", GroupID: "g1"},
	}
	table := &recordingTable{}

	var gotErr error
	var errMu sync.Mutex
	src := NewSource(info, table, func(name string, err error, clientError bool) {
		errMu.Lock()
		gotErr = err
		errMu.Unlock()
	})

	provider, err := kafka.NewFakeMessageProviderFactory(fk, "orders", "g1").NewMessageProvider()
	require.NoError(t, err)

	mc, err := NewMessageConsumer(provider, 20*time.Millisecond, 100, src, nil)
	require.NoError(t, err)
	defer mc.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(table.snapshot()) < 10 {
		time.Sleep(5 * time.Millisecond)
	}

	rows := table.snapshot()
	require.Len(t, rows, 10)
	errMu.Lock()
	require.NoError(t, gotErr)
	errMu.Unlock()

	sums := make(map[int64]bool)
	for _, r := range rows {
		id, ok := r[0].(int64)
		require.True(t, ok)
		amount, ok := r[1].(int64)
		require.True(t, ok)
		require.Equal(t, id*100, amount)
		sums[id] = true
	}
	require.Len(t, sums, 10)

	require.NoError(t, mc.Stop())
}

func TestMessageParserNullsMissingColumns(t *testing.T) {
	p, err := NewMessageParser(SourceInfo{
		ColumnNames: []string{"id", "name"},
		ColumnTypes: []common.ColumnType{common.BigIntColumnType, common.VarcharColumnType},
	})
	require.NoError(t, err)

	row, err := p.Parse(&kafka.Message{Value: []byte(`{"id": 7}`)})
	require.NoError(t, err)
	require.Equal(t, int64(7), row.Values[0])
	require.Nil(t, row.Values[1])
}
