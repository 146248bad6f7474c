package metrics

import "testing"

func TestNewRegistry_ExportsSnapshot(t *testing.T) {
	c := NewCollector("agent-1", "fs", "")
	c.IncSweepStarted()
	c.IncSweepStarted()
	c.IncBatchThrottled(4)

	reg := NewRegistry(c, func() int { return 3 })

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					key += "{" + lp.GetValue() + "}"
				}
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			}
		}
	}

	tests := []struct {
		name string
		want float64
	}{
		{"ndsagent_sweeps_started_total", 2},
		{"ndsagent_records_dropped_total", 4},
		{"ndsagent_batches_total{throttled}", 1},
		{"ndsagent_batches_total{accepted}", 0},
		{"ndsagent_active_loops", 3},
	}
	for _, tt := range tests {
		got, ok := values[tt.name]
		if !ok {
			t.Errorf("%s not exported", tt.name)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewRegistry_ReadsLiveValues(t *testing.T) {
	c := NewCollector("agent-1", "", "")
	reg := NewRegistry(c, nil)

	c.IncSweepFailed()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "ndsagent_sweeps_failed_total" {
			continue
		}
		if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
			t.Errorf("sweeps_failed_total = %v, want 1", v)
		}
		return
	}
	t.Error("sweeps_failed_total not exported")
}
