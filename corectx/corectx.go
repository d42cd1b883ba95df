// Package corectx assembles the process-wide Core Context named in the
// component design notes: one constructor call wires a Configuration into
// a cache (backed by a restart journal), a failure-recovery state
// machine, a partition topology, a process/transport driver, and the
// evaluation scheduler that drives them all, grounded on the teacher's
// pattern of injecting a single Config and *logrus.Entry into every
// constructor (coordinator.New, statemanager.New, worker.NewPool) instead
// of relying on package-level globals.
package corectx

import (
	"context"
	"fmt"

	"github.com/evalgo-org/evalcore/cache"
	"github.com/evalgo-org/evalcore/config"
	"github.com/evalgo-org/evalcore/driver"
	"github.com/evalgo-org/evalcore/recovery"
	"github.com/evalgo-org/evalcore/scheduler"
	"github.com/evalgo-org/evalcore/topology"
	"github.com/sirupsen/logrus"
)

// Context owns every long-lived collaborator for one run: the cache and
// its journal handle, the failure-recovery state machine, the resolved
// evaluation partition, the process/transport driver, and the scheduler
// built from all of the above. Close() stops the scheduler, then closes
// the restart journal, then the Redis mirror.
type Context struct {
	Config config.Configuration
	Log    *logrus.Entry

	Cache      *cache.Cache
	journal    *cache.Journal
	mirror     *cache.RedisMirror
	Recoverer  *recovery.Recoverer
	Level      *topology.Level
	Driver     *driver.Driver
	Scheduler  *scheduler.Scheduler
}

// New constructs one Core Context from cfg, wiring the restart journal
// (if enabled), the evaluation cache, failure-recovery, partition
// resolution, and the scheduler, in that order — each later stage depends
// on state the earlier ones built, mirroring §4.D's "synchronize drains
// the queue using (A), consulting (E), on failure invoking (C)" data flow.
func New(cfg config.Configuration, transport driver.Transport, filing driver.Filing, log *logrus.Entry) (*Context, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "corectx")

	var journal *cache.Journal
	if cfg.RestartFile && cfg.WorkDirectory != "" {
		j, err := cache.OpenJournal(cfg.WorkDirectory + "/restart.journal")
		if err != nil {
			return nil, fmt.Errorf("corectx: opening restart journal: %w", err)
		}
		journal = j
	}

	c := cache.New(journal, log)
	if journal != nil {
		if err := c.LoadJournal(); err != nil {
			return nil, fmt.Errorf("corectx: replaying restart journal: %w", err)
		}
	}

	var mirror *cache.RedisMirror
	if cfg.RedisMirrorURL != "" {
		m, err := cache.NewRedisMirror(context.Background(), cache.RedisMirrorConfig{RedisURL: cfg.RedisMirrorURL})
		if err != nil {
			return nil, fmt.Errorf("corectx: connecting redis mirror: %w", err)
		}
		c.SetMirror(m)
		mirror = m
	}

	recCfg := recovery.DefaultConfig()
	recCfg.Mode = cfg.FailureCapture
	recCfg.RetryLimit = cfg.RetryLimit
	recCfg.RecoveryValues = cfg.RecoveryValues
	recoverer := recovery.New(recCfg, c, log)

	var level *topology.Level
	if cfg.EvaluationServers > 0 || cfg.EvaluationScheduling != topology.SchedulingDefault {
		lvl, err := topology.Resolve(topology.Request{
			ParentSize:           maxInt(1, cfg.EvaluationServers),
			RequestedServers:     cfg.EvaluationServers,
			ProcessorsPerServer:  cfg.ProcessorsPerEvaluation,
			Scheduling:           cfg.EvaluationScheduling,
			PeerDynamicAvailable: true,
		})
		if err != nil {
			return nil, fmt.Errorf("corectx: resolving evaluation partition: %w", err)
		}
		level = lvl
	}

	d := driver.New(transport, filing)

	sched := scheduler.New(scheduler.Config{
		Level:            level,
		LocalConcurrency: cfg.AsynchLocalEvaluationConcurrency,
		CacheEnabled:     cfg.EvaluationCache,
		Cache:            c,
		NearbyTol:        nearbyTol(cfg),
		Recoverer:        recoverer,
	}, d, log)

	return &Context{
		Config:    cfg,
		Log:       log,
		Cache:     c,
		journal:   journal,
		mirror:    mirror,
		Recoverer: recoverer,
		Level:     level,
		Driver:    d,
		Scheduler: sched,
	}, nil
}

func nearbyTol(cfg config.Configuration) float64 {
	if !cfg.NearbyEvaluationCache {
		return 0
	}
	return cfg.NearbyTolerance
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Close retires the scheduler's message-passing partition (see
// scheduler.Stop), closes the restart journal, and closes the Redis
// mirror, in that order.
func (c *Context) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			return fmt.Errorf("corectx: closing restart journal: %w", err)
		}
	}
	if c.mirror != nil {
		if err := c.mirror.Close(); err != nil {
			return fmt.Errorf("corectx: closing redis mirror: %w", err)
		}
	}
	return nil
}
