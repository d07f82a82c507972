package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveCycleNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeSuccess))
	ObserveCycle(-time.Second, "bogus")
	after := testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeSuccess))
	if after-before != 1 {
		t.Fatalf("expected unknown outcome to count as success, delta=%v", after-before)
	}
}

func TestObserveDelivery(t *testing.T) {
	before := testutil.ToFloat64(channelDeliveriesTotal.WithLabelValues("console", OutcomeError))
	ObserveDelivery("console", false)
	if got := testutil.ToFloat64(channelDeliveriesTotal.WithLabelValues("console", OutcomeError)); got-before != 1 {
		t.Fatalf("expected one failed delivery, delta=%v", got-before)
	}
}
