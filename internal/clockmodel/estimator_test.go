package clockmodel

import (
	"math"
	"testing"
)

func TestEstimator_NoModelBeforeNMin(t *testing.T) {
	e := New(0, 5, 0)
	for i := uint64(0); i < 4; i++ {
		e.PushSample(i, float64(i)*0.01)
	}
	if m := e.CurrentModel(); m != nil {
		t.Fatalf("expected no model before NMin samples, got %+v", m)
	}
}

func TestEstimator_PerfectlyLinearSequence(t *testing.T) {
	e := New(0, 5, 0)
	const gain = 0.01
	const offset = 1000.0

	for i := uint64(0); i < 20; i++ {
		host := gain*float64(i) + offset
		if !e.PushSample(i, host) {
			t.Fatalf("sample %d unexpectedly rejected", i)
		}
	}

	m := e.CurrentModel()
	if m == nil {
		t.Fatal("expected a model after 20 samples")
	}
	if math.Abs(m.Gain-gain) > 1e-9 {
		t.Errorf("gain = %v, want %v", m.Gain, gain)
	}
	if math.Abs(m.Offset-offset) > 1e-6 {
		t.Errorf("offset = %v, want %v", m.Offset, offset)
	}
	if m.Residual > 1e-9 {
		t.Errorf("residual = %v, want ~0", m.Residual)
	}
}

func TestEstimator_RejectsOutlier(t *testing.T) {
	e := New(0, 5, 0)
	const gain = 0.01
	const offset = 0.0

	for i := uint64(0); i < 10; i++ {
		e.PushSample(i, gain*float64(i)+offset)
	}

	before := e.CurrentModel()

	// A pulse arriving 50ms off from prediction, far beyond the 1ms
	// default threshold.
	accepted := e.PushSample(10, gain*10+offset+0.050)
	if accepted {
		t.Error("expected outlier sample to be rejected")
	}
	if e.RejectedCount() != 1 {
		t.Errorf("RejectedCount() = %d, want 1", e.RejectedCount())
	}

	after := e.CurrentModel()
	if *before != *after {
		t.Errorf("model changed after rejected sample: before=%+v after=%+v", before, after)
	}

	// Ten subsequent good samples should be accepted normally.
	for i := uint64(11); i < 21; i++ {
		if !e.PushSample(i, gain*float64(i)+offset) {
			t.Errorf("good sample %d unexpectedly rejected", i)
		}
	}
}

func TestEstimator_WindowIsBounded(t *testing.T) {
	e := New(10, 5, 0)
	for i := uint64(0); i < 100; i++ {
		e.PushSample(i, float64(i)*0.01)
	}
	if len(e.samples) != 10 {
		t.Errorf("len(samples) = %d, want 10", len(e.samples))
	}
}

func TestEstimator_Reset(t *testing.T) {
	e := New(0, 5, 0)
	for i := uint64(0); i < 10; i++ {
		e.PushSample(i, float64(i)*0.01)
	}
	if e.CurrentModel() == nil {
		t.Fatal("expected a model before reset")
	}

	e.Reset()

	if m := e.CurrentModel(); m != nil {
		t.Errorf("expected no model after reset, got %+v", m)
	}
	if e.RejectedCount() != 0 {
		t.Errorf("expected rejected count reset to 0, got %d", e.RejectedCount())
	}
	if !e.IsIdle() {
		t.Error("expected IsIdle() after reset")
	}
}

func TestEstimator_Predict(t *testing.T) {
	e := New(0, 5, 0)
	for i := uint64(0); i < 10; i++ {
		e.PushSample(i, 0.01*float64(i)+5.0)
	}

	got, ok := e.Predict(100)
	if !ok {
		t.Fatal("expected Predict to succeed once model exists")
	}
	want := 0.01*100 + 5.0
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Predict(100) = %v, want %v", got, want)
	}
}

func TestEstimator_PredictBeforeModel(t *testing.T) {
	e := New(0, 5, 0)
	if _, ok := e.Predict(1); ok {
		t.Error("expected Predict to fail before a model exists")
	}
	if !e.IsIdle() {
		t.Error("expected IsIdle() before any samples")
	}
}
