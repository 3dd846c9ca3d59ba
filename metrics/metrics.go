// Package metrics exposes engine state as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexandrut83/sentinel/sentinel"
)

const namespace = "sentinel"

// Sources is what the collector reads on every scrape. Nil fields are skipped.
type Sources struct {
	Stats        *sentinel.Stats
	Ledger       *sentinel.EarningsLedger
	Index        *sentinel.MembershipIndex
	Bus          *sentinel.EventBus
	Orchestrator *sentinel.ScanOrchestrator
	Verifier     *sentinel.VerificationCoordinator
}

// Collector implements prometheus.Collector over live engine state
type Collector struct {
	src Sources

	events       *prometheus.Desc
	earnings     *prometheus.Desc
	bonusCap     *prometheus.Desc
	indexBits    *prometheus.Desc
	indexEntries *prometheus.Desc
	indexFPRate  *prometheus.Desc
	subscribers  *prometheus.Desc
	dropped      *prometheus.Desc
	guarding     *prometheus.Desc
	passiveHits  *prometheus.Desc
	pending      *prometheus.Desc
}

// NewCollector creates a collector over src
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Engine events by kind since process start.",
			[]string{"kind"}, nil,
		),
		earnings: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "balance"),
			"Session earnings by account, in currency units.",
			[]string{"account"}, nil,
		),
		bonusCap: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "bonus_cap"),
			"Ceiling on the bonus account.",
			nil, nil,
		),
		indexBits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "bits"),
			"Size of the membership index bit array.",
			nil, nil,
		),
		indexEntries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "entries"),
			"Identifiers loaded into the membership index.",
			nil, nil,
		),
		indexFPRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "false_positive_rate"),
			"Estimated false positive rate of the membership index.",
			nil, nil,
		),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bus", "subscribers"),
			"Registered notification observers.",
			nil, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bus", "dropped_total"),
			"Notifications dropped by slow channel subscribers.",
			nil, nil,
		),
		guarding: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "guarding"),
			"1 while guarding is active.",
			nil, nil,
		),
		passiveHits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "passive_hits"),
			"Filter misses counted in the current session.",
			nil, nil,
		),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "verifier", "pending"),
			"Verifications currently in flight.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.earnings
	ch <- c.bonusCap
	ch <- c.indexBits
	ch <- c.indexEntries
	ch <- c.indexFPRate
	ch <- c.subscribers
	ch <- c.dropped
	ch <- c.guarding
	ch <- c.passiveHits
	ch <- c.pending
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Stats != nil {
		for counter, v := range c.src.Stats.Snapshot().Totals {
			ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), string(counter))
		}
	}

	if c.src.Ledger != nil {
		e := c.src.Ledger.Read()
		ch <- prometheus.MustNewConstMetric(c.earnings, prometheus.GaugeValue, e.Base.Float(), string(sentinel.AccountBase))
		ch <- prometheus.MustNewConstMetric(c.earnings, prometheus.GaugeValue, e.Bonus.Float(), string(sentinel.AccountBonus))
		ch <- prometheus.MustNewConstMetric(c.bonusCap, prometheus.GaugeValue, e.BonusCap.Float())
	}

	if c.src.Index != nil {
		ch <- prometheus.MustNewConstMetric(c.indexBits, prometheus.GaugeValue, float64(c.src.Index.BitCount()))
		ch <- prometheus.MustNewConstMetric(c.indexEntries, prometheus.GaugeValue, float64(c.src.Index.Len()))
		ch <- prometheus.MustNewConstMetric(c.indexFPRate, prometheus.GaugeValue, c.src.Index.EstimatedFalsePositiveRate())
	}

	if c.src.Bus != nil {
		ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(c.src.Bus.Len()))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.src.Bus.Dropped()))
	}

	if c.src.Orchestrator != nil {
		guarding := 0.0
		if c.src.Orchestrator.State() == sentinel.StateActive {
			guarding = 1
		}
		ch <- prometheus.MustNewConstMetric(c.guarding, prometheus.GaugeValue, guarding)
		ch <- prometheus.MustNewConstMetric(c.passiveHits, prometheus.GaugeValue, float64(c.src.Orchestrator.PassiveHits()))
	}

	if c.src.Verifier != nil {
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.src.Verifier.Pending()))
	}
}

// Register adds a collector over src to reg
func Register(reg prometheus.Registerer, src Sources) (*Collector, error) {
	c := NewCollector(src)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
