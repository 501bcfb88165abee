package config_test

import (
	"testing"

	"github.com/bilusteknoloji/pixi/internal/config"
)

func TestImplicitRange(t *testing.T) {
	cases := []struct {
		strategy config.PinningStrategy
		version  string
		want     string
	}{
		{config.PinNoPin, "1.2.3", ""},
		{config.PinExactVersion, "1.2.3", "==1.2.3"},
		{config.PinMajor, "1.2.3", ">=1,<2"},
		{config.PinMinor, "1.2.3", ">=1.2,<1.3"},
		{config.PinLatestUp, "1.2.3", ">=1.2.3"},
		{config.PinSemver, "1.2.3", ">=1.2.3,<2"},
		{config.PinSemver, "0.4.1", ">=0.4.1,<0.5"},
	}

	for _, c := range cases {
		got, err := config.ImplicitRange(c.strategy, c.version)
		if err != nil {
			t.Fatalf("ImplicitRange(%s, %s): %v", c.strategy, c.version, err)
		}

		if got != c.want {
			t.Errorf("ImplicitRange(%s, %s) = %q, want %q", c.strategy, c.version, got, c.want)
		}
	}
}

func TestImplicitRangeNonSemverFallsBackToLowerBound(t *testing.T) {
	got, err := config.ImplicitRange(config.PinSemver, "1.2.3.4")
	if err != nil {
		t.Fatalf("ImplicitRange: %v", err)
	}

	if got != ">=1.2.3.4" {
		t.Errorf("ImplicitRange(non-semver) = %q, want %q", got, ">=1.2.3.4")
	}
}
