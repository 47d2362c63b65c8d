package metrics

import (
	"strconv"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/manager"
)

// Collector keeps the package's gauges in sync with a GroupManager's state,
// polling on a ticker for point-in-time values and subscribing to the
// manager's event broker for counters that only make sense as transitions.
type Collector struct {
	manager *manager.GroupManager
	sub     events.Subscriber
	stopCh  chan struct{}
}

// NewCollector creates a collector for mgr.
func NewCollector(mgr *manager.GroupManager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics. It returns once the collector's
// goroutines are running; call Stop to tear them down.
func (c *Collector) Start() {
	c.sub = c.manager.Events().Subscribe()

	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	go c.watchEvents()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.manager.Events().Unsubscribe(c.sub)
}

func (c *Collector) collect() {
	c.collectGroupMetrics()
	c.collectDeploymentMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectGroupMetrics() {
	root := c.manager.Root()
	GroupsTotal.Set(float64(len(root.Groups())))
	AppsTotal.Set(float64(len(root.TransitiveAppsById())))
}

func (c *Collector) collectDeploymentMetrics() {
	if _, inFlight := c.manager.InFlightDeployment(); inFlight {
		DeploymentInFlight.Set(1)
	} else {
		DeploymentInFlight.Set(0)
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.manager.RaftStats()
	if stats == nil {
		return
	}
	if v, ok := stats["last_log_index"]; ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			RaftLogIndex.Set(float64(n))
		}
	}
	if v, ok := stats["applied_index"]; ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			RaftAppliedIndex.Set(float64(n))
		}
	}
}

// watchEvents translates deployment and health lifecycle events into
// counters that a polling loop can't observe after the fact.
func (c *Collector) watchEvents() {
	for {
		select {
		case ev, ok := <-c.sub:
			if !ok {
				return
			}
			switch ev.Type {
			case events.DeploymentSuccess:
				DeploymentsTotal.WithLabelValues("success").Inc()
			case events.DeploymentFailed:
				DeploymentsTotal.WithLabelValues("failed").Inc()
			case events.DeploymentCanceled:
				DeploymentsTotal.WithLabelValues("canceled").Inc()
			case events.FailedHealthCheck:
				HealthChecksFailedTotal.Inc()
			case events.UnhealthyTaskKillEvent:
				UnhealthyTaskKillsTotal.Inc()
			}
		case <-c.stopCh:
			return
		}
	}
}
