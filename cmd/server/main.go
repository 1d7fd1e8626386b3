// Command server boots one flowbase node: a controller, optionally a
// recipe read from -recipe, and its HTTP admin surface; it starts no
// Kafka ingestion sources — the in-process
// equivalent of the teacher's server bootstrap, minus the cluster
// membership/raft startup sequence that went with dropping
// dragonboat (see DESIGN.md).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/squareup/flowbase/api"
	"github.com/squareup/flowbase/conf"
	"github.com/squareup/flowbase/controller"
)

func main() {
	cfg := conf.Defaults()

	flag.IntVar(&cfg.NodeID, "node-id", cfg.NodeID, "this node's id")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "base directory for persistent base-table stores (empty runs entirely in-memory)")
	flag.IntVar(&cfg.NumShards, "num-shards", cfg.NumShards, "domain shard count")
	flag.StringVar(&cfg.APIServerListenAddress, "listen", cfg.APIServerListenAddress, "HTTP admin surface listen address")
	recipePath := flag.String("recipe", "", "path to a recipe file to install at startup")
	flag.Parse()

	if err := run(cfg, *recipePath); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(cfg conf.Config, recipePath string) error {
	ctrl := controller.NewController(controller.Options{
		ShardCount: cfg.NumShards,
		StateDir:   cfg.DataDir,
	})
	defer ctrl.Close()

	if recipePath != "" {
		text, err := os.ReadFile(recipePath)
		if err != nil {
			return err
		}
		if err := ctrl.InstallRecipe(string(text)); err != nil {
			return err
		}
		log.Infof("server: installed recipe from %s", recipePath)
	}

	apiSrv := api.NewServer(ctrl, cfg)
	if err := apiSrv.Start(); err != nil {
		return err
	}
	defer func() {
		if err := apiSrv.Stop(); err != nil {
			log.Errorf("server: error stopping api server: %v", err)
		}
	}()
	log.Infof("server: listening on %s", apiSrv.GetListenAddress())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("server: shutting down")
	// Give in-flight requests a moment to drain before Stop cancels the
	// listener outright.
	time.Sleep(100 * time.Millisecond)
	return nil
}
