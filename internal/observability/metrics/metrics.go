package metrics

import "github.com/prometheus/client_golang/prometheus"

// SDKMetrics exposes counters for the engagement backend's hot paths.
type SDKMetrics struct {
	engagementsTotal     *prometheus.CounterVec
	payloadsTotal        *prometheus.CounterVec
	manifestRefreshTotal *prometheus.CounterVec
	saveFailuresTotal    *prometheus.CounterVec
}

func NewSDKMetrics(reg prometheus.Registerer) *SDKMetrics {
	m := &SDKMetrics{
		engagementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "backend",
			Name:      "engagements_total",
			Help:      "Total engaged events by outcome",
		}, []string{"outcome"}),
		payloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "queue",
			Name:      "payloads_total",
			Help:      "Total outbound payloads by kind and status",
		}, []string{"kind", "status"}),
		manifestRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "backend",
			Name:      "manifest_refresh_total",
			Help:      "Total engagement manifest refresh attempts",
		}, []string{"status"}),
		saveFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "persistence",
			Name:      "save_failures_total",
			Help:      "Total failed persistent saves by record",
		}, []string{"record"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.engagementsTotal, m.payloadsTotal, m.manifestRefreshTotal, m.saveFailuresTotal)
	return m
}

func (m *SDKMetrics) ObserveEngagement(outcome string) {
	if m == nil {
		return
	}
	m.engagementsTotal.WithLabelValues(outcome).Inc()
}

func (m *SDKMetrics) ObservePayload(kind, status string) {
	if m == nil {
		return
	}
	m.payloadsTotal.WithLabelValues(kind, status).Inc()
}

func (m *SDKMetrics) ObserveManifestRefresh(status string) {
	if m == nil {
		return
	}
	m.manifestRefreshTotal.WithLabelValues(status).Inc()
}

func (m *SDKMetrics) ObserveSaveFailure(record string) {
	if m == nil {
		return
	}
	m.saveFailuresTotal.WithLabelValues(record).Inc()
}
