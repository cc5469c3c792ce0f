package metrics

import (
	"time"

	"github.com/cuemby/formation/pkg/state"
)

// Collector periodically samples a DataStore's CRDT maps into the
// package-level gauges, the same poll-and-set shape as Prometheus
// exporters that front a reconciled store rather than push metrics
// inline on every write.
type Collector struct {
	store  *state.DataStore
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store *state.DataStore) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
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
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPeerMetrics()
	c.collectInstanceMetrics()
	c.collectAgentAccountMetrics()
	c.collectDNSMetrics()
}

func (c *Collector) collectPeerMetrics() {
	peers := c.store.ListPeers()
	counts := map[string]int{"true": 0, "false": 0}
	for _, p := range peers {
		if p.IsDisabled {
			counts["true"]++
		} else {
			counts["false"]++
		}
	}
	for disabled, count := range counts {
		PeersTotal.WithLabelValues(disabled).Set(float64(count))
	}
}

func (c *Collector) collectInstanceMetrics() {
	instances := c.store.ListInstances()
	counts := make(map[string]int)
	for _, i := range instances {
		counts[string(i.Status)]++
	}
	for status, count := range counts {
		InstancesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectAgentAccountMetrics() {
	AgentsTotal.Set(float64(len(c.store.ListAgents())))
	AccountsTotal.Set(float64(len(c.store.ListAccounts())))
}

func (c *Collector) collectDNSMetrics() {
	DNSRecordsTotal.Set(float64(len(c.store.ListDNSRecords())))
}
