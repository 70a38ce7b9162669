package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSDKMetricsObserve(t *testing.T) {
	m := NewSDKMetrics(prometheus.NewRegistry())
	m.ObserveEngagement("shown")
	m.ObservePayload("event", "delivered")
	m.ObserveManifestRefresh("success")
	m.ObserveSaveFailure("conversation")
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *SDKMetrics
	m.ObserveEngagement("shown")
	m.ObservePayload("event", "dropped")
	m.ObserveManifestRefresh("failure")
	m.ObserveSaveFailure("payload_queue")
}

func TestCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSDKMetrics(reg)
	m.ObservePayload("survey_response", "delivered")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "engage_queue_payloads_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected payloads counter to be registered")
	}
}
