package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 10},
		{"default bucket size for negative", -1, 10},
		{"custom bucket size", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "staging") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
}

func TestProgressSampler_PhaseAndBuckets(t *testing.T) {
	s := NewProgressSampler(10)

	if !s.ShouldLog(0, "staging") {
		t.Error("first phase should log")
	}
	if s.ShouldLog(5, "staging") {
		t.Error("same bucket should not log again")
	}
	if !s.ShouldLog(12, "staging") {
		t.Error("crossing a bucket should log")
	}
	if s.ShouldLog(-1, "staging") {
		t.Error("unknown percent in same phase should not log")
	}
	if !s.ShouldLog(100, "assembling") {
		t.Error("phase change should log")
	}
	if s.ShouldLog(100, "assembling") {
		t.Error("repeat of final bucket should not log")
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		processed, total int
		want             float64
	}{
		{0, 0, -1},
		{3, 0, -1},
		{0, 4, 0},
		{1, 4, 25},
		{4, 4, 100},
		{5, 4, 100},
	}
	for _, tc := range cases {
		if got := Percent(tc.processed, tc.total); got != tc.want {
			t.Errorf("Percent(%d, %d) = %v, want %v", tc.processed, tc.total, got, tc.want)
		}
	}
}
