package order

import (
	"errors"
	"testing"
)

func TestConstraintsValidate(t *testing.T) {
	c := Constraints{TickSize: 0.1, MaxVolume: 50}
	if err := c.Validate(99.8, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := []struct {
		price  float64
		volume int64
		want   error
	}{
		{99.85, 2, ErrPriceOffTick},
		{99.8, 0, ErrInvalidVolume},
		{99.8, 51, ErrVolumeTooLarge},
		{0, 1, ErrInvalidPrice},
	}
	for _, tc := range cases {
		if err := c.Validate(tc.price, tc.volume); !errors.Is(err, tc.want) {
			t.Fatalf("price=%v vol=%d: expected %v got %v", tc.price, tc.volume, tc.want, err)
		}
	}
}

func TestConstraintsNoTick(t *testing.T) {
	c := Constraints{}
	if err := c.Validate(99.8512, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
