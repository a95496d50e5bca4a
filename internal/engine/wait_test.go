package engine

import (
	"testing"
	"time"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

func TestWaitCalculator_FromDuration(t *testing.T) {
	w := NewWaitCalculator(&fixedClock{now: testNow})

	tests := []struct {
		unit  domain.WaitUnit
		value float64
		want  time.Duration
	}{
		{domain.WaitSeconds, 30, 30 * time.Second},
		{domain.WaitMinutes, 1.5, 90 * time.Second},
		{domain.WaitHours, 2, 7_200_000 * time.Millisecond},
		{domain.WaitDays, 1, 24 * time.Hour},
		{"fortnights", 3, 0},
		{domain.WaitSeconds, -5, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.unit), func(t *testing.T) {
			got := w.FromDuration(tt.unit, tt.value)
			if !got.Equal(testNow.Add(tt.want)) {
				t.Errorf("FromDuration(%s, %v) = %s, want %s", tt.unit, tt.value, got, testNow.Add(tt.want))
			}
		})
	}
}

func TestWaitCalculator_FromTimestamp(t *testing.T) {
	w := NewWaitCalculator(nil)
	ts := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := w.FromTimestamp(ts); !got.Equal(ts) {
		t.Errorf("FromTimestamp() = %s, want %s", got, ts)
	}
}

func TestWaitCalculator_HugeWaitSaturates(t *testing.T) {
	w := NewWaitCalculator(&fixedClock{now: testNow})

	got := w.FromDuration(domain.WaitDays, 1e9)
	if want := testNow.Add(domain.MaxWait); !got.Equal(want) {
		t.Errorf("FromDuration(days, 1e9) = %s, want %s", got, want)
	}
	if !got.After(testNow) {
		t.Error("Expected deadline in the future")
	}
}
