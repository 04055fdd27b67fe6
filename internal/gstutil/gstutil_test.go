package gstutil

import "testing"

func TestFramerateFraction(t *testing.T) {
	cases := []struct {
		fps      float64
		num, den int
	}{
		{30, 30, 1},
		{60, 60, 1},
		{29.97, 29970, 1000},
		{0.5, 500, 1000},
		{0.1, 100, 1000},
	}
	for _, tc := range cases {
		num, den := FramerateFraction(tc.fps)
		if num != tc.num || den != tc.den {
			t.Errorf("FramerateFraction(%v) = %d/%d, want %d/%d", tc.fps, num, den, tc.num, tc.den)
		}
	}
}
