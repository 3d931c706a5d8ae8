// The viloria daemon is the learner side of the pipeline: it trains
// continuously from the replay store written by the game backend,
// checkpoints on schedule, and optionally exports metrics. SIGINT/SIGTERM
// stop it between iterations with a final checkpoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	viloria "github.com/joviva/viloria-checkers-ai-sub002"
)

var (
	dataDir      = flag.String("data", "data", "directory for the replay store and checkpoints")
	advanced     = flag.Bool("advanced", false, "use the 5-block network architecture")
	noCurriculum = flag.Bool("no-curriculum", false, "disable curriculum reward multipliers")
	noPriority   = flag.Bool("no-priority", false, "sample uniformly by recency instead of by priority")
	interval     = flag.Duration("interval", time.Minute, "time between training iterations")
	saveEvery    = flag.Int("save-every", 10, "iterations between checkpoints")
	batchSize    = flag.Int("batch", 32, "transitions per optimizer step")
	metricsPath  = flag.String("metrics", "", "path for periodic metrics JSON export (empty disables)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	conf := viloria.DefaultConfig(*dataDir)
	conf.UseAdvancedNetwork = *advanced
	conf.UseCurriculum = !*noCurriculum
	conf.UsePriorityReplay = !*noPriority
	conf.TrainingInterval = *interval
	conf.SaveInterval = *saveEvery
	conf.BatchSize = *batchSize
	// the daemon has no rules engine; games come from the backend
	conf.SelfPlayGames = 0

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		klog.Fatalf("creating data directory: %v", err)
	}
	session, err := viloria.NewSession(conf, nil)
	if err != nil {
		klog.Fatalf("starting session: %v", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsPath != "" {
		go exportLoop(ctx, session, *metricsPath)
	}

	if err := session.Run(ctx); err != nil {
		klog.Errorf("session: %v", err)
	}
	if err := session.Checkpoint(); err != nil {
		klog.Errorf("final checkpoint: %v", err)
	} else {
		klog.Info("final checkpoint saved")
	}
	klog.Flush()
}

func exportLoop(ctx context.Context, session *viloria.Session, path string) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := session.ExportMetrics(path); err != nil {
				klog.Warningf("exporting metrics: %v", err)
			}
		}
	}
}
