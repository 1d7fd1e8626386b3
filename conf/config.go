// Package conf holds flowbase's node configuration, a flat struct in the
// teacher's conf.Config style (referenced throughout api/server.go and
// cluster/dragon/dragon.go) rather than a nested options tree.
package conf

import "time"

// Config is the static configuration of one flowbase node.
type Config struct {
	NodeID int
	DataDir string

	// NumShards is the number of domain shards data nodes are split
	// across (spec.md §3's Domain.shard count N).
	NumShards int

	APIServerListenAddress        string
	APIServerSessionCheckInterval time.Duration
	APIServerSessionTimeout       time.Duration

	// ChannelQueueCapacity/Watermark bound the fabric's per-edge
	// backpressure (spec.md §5 "Backpressure").
	ChannelQueueCapacity int
	ChannelWatermark     int

	// Base-table write-batching durability knobs (spec.md §4.1
	// "Persistent state").
	BaseTableFlushQueueCapacity int
	BaseTableFlushTimeout       time.Duration

	// MigrationReplayDeadline bounds how long a migration waits for all
	// required replays before aborting and discarding the staged graph
	// (spec.md §4.7 "Atomicity", §5 "Cancellation and timeouts").
	MigrationReplayDeadline time.Duration

	// HeartbeatInterval/MissedHeartbeats bound controller liveness
	// tracking (spec.md §4.8).
	HeartbeatInterval  time.Duration
	MissedHeartbeats   int
}

// Defaults returns a Config with the same order-of-magnitude defaults the
// teacher ships (dragonCallTimeout-style 10s RPC timeouts, 100ms retry
// delays) adapted to flowbase's in-process scope.
func Defaults() Config {
	return Config{
		NumShards:                     4,
		APIServerListenAddress:        "localhost:6584",
		APIServerSessionCheckInterval: 10 * time.Second,
		APIServerSessionTimeout:       2 * time.Minute,
		ChannelQueueCapacity:          1000,
		ChannelWatermark:              800,
		BaseTableFlushQueueCapacity:   1000,
		BaseTableFlushTimeout:         100 * time.Millisecond,
		MigrationReplayDeadline:       30 * time.Second,
		HeartbeatInterval:             time.Second,
		MissedHeartbeats:              3,
	}
}
