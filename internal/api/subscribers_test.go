package api

import "testing"

func TestValidTrigger(t *testing.T) {
	p := func(n int) *int { return &n }

	cases := []struct {
		name  string
		month *int
		day   *int
		want  bool
	}{
		{"both absent", nil, nil, true},
		{"month only", p(3), nil, false},
		{"day only", nil, p(14), false},
		{"valid date", p(3), p(14), true},
		{"leap day accepted", p(2), p(29), true},
		{"day overflow", p(2), p(30), false},
		{"month out of range", p(13), p(1), false},
		{"zero month", p(0), p(1), false},
		{"zero day", p(1), p(0), false},
		{"april 31", p(4), p(31), false},
		{"december 31", p(12), p(31), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := validTrigger(tc.month, tc.day); got != tc.want {
				t.Errorf("validTrigger(%v, %v) = %v, want %v", tc.month, tc.day, got, tc.want)
			}
		})
	}
}
