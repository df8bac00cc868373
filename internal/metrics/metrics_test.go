package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersJobCollectors(t *testing.T) {
	m := New()
	m.JobsApplied.WithLabelValues("DEPOSIT").Inc()
	m.JobsDeadLettered.WithLabelValues("REFUND", "exhausted").Inc()

	if n := testutil.CollectAndCount(m.JobsDeadLettered, "ledger_jobs_dead_lettered_total"); n != 1 {
		t.Fatalf("dead-lettered series: got %d, want 1", n)
	}
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"ledger_jobs_applied_total", "ledger_jobs_dead_lettered_total", "go_goroutines"} {
		if !names[want] {
			t.Errorf("registry is missing %s", want)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.JobsClaimed.Inc()

	if got := testutil.ToFloat64(b.JobsClaimed); got != 0 {
		t.Fatalf("second registry saw %v claims", got)
	}
}
