package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("THREATCORE_TEST_GETENV_UNSET")
		got := GetEnv("THREATCORE_TEST_GETENV_UNSET", "default")
		if got != "default" {
			t.Errorf("GetEnv(unset) = %q, want %q", got, "default")
		}
	})

	t.Run("returns value when set", func(t *testing.T) {
		os.Setenv("THREATCORE_TEST_GETENV_SET", "myvalue")
		defer os.Unsetenv("THREATCORE_TEST_GETENV_SET")
		got := GetEnv("THREATCORE_TEST_GETENV_SET", "default")
		if got != "myvalue" {
			t.Errorf("GetEnv(set) = %q, want %q", got, "myvalue")
		}
	})

	t.Run("returns default when empty", func(t *testing.T) {
		os.Setenv("THREATCORE_TEST_GETENV_EMPTY", "")
		defer os.Unsetenv("THREATCORE_TEST_GETENV_EMPTY")
		got := GetEnv("THREATCORE_TEST_GETENV_EMPTY", "default")
		if got != "default" {
			t.Errorf("GetEnv(empty) = %q, want %q", got, "default")
		}
	})

	t.Run("trims space", func(t *testing.T) {
		os.Setenv("THREATCORE_TEST_GETENV_TRIM", "  trimmed  ")
		defer os.Unsetenv("THREATCORE_TEST_GETENV_TRIM")
		got := GetEnv("THREATCORE_TEST_GETENV_TRIM", "default")
		if got != "trimmed" {
			t.Errorf("GetEnv(trim) = %q, want %q", got, "trimmed")
		}
	})
}

func TestGetEnvDuration(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("THREATCORE_TEST_DURATION_UNSET")
		got := GetEnvDuration("THREATCORE_TEST_DURATION_UNSET", 5*time.Second)
		if got != 5*time.Second {
			t.Errorf("GetEnvDuration(unset) = %v, want 5s", got)
		}
	})

	t.Run("returns default when empty", func(t *testing.T) {
		os.Setenv("THREATCORE_TEST_DURATION_EMPTY", "")
		defer os.Unsetenv("THREATCORE_TEST_DURATION_EMPTY")
		got := GetEnvDuration("THREATCORE_TEST_DURATION_EMPTY", 10*time.Second)
		if got != 10*time.Second {
			t.Errorf("GetEnvDuration(empty) = %v, want 10s", got)
		}
	})

	t.Run("parses valid duration", func(t *testing.T) {
		os.Setenv("THREATCORE_TEST_DURATION_VALID", "30s")
		defer os.Unsetenv("THREATCORE_TEST_DURATION_VALID")
		got := GetEnvDuration("THREATCORE_TEST_DURATION_VALID", time.Second)
		if got != 30*time.Second {
			t.Errorf("GetEnvDuration(30s) = %v, want 30s", got)
		}
	})

	t.Run("returns default on invalid duration", func(t *testing.T) {
		os.Setenv("THREATCORE_TEST_DURATION_INVALID", "not-a-duration")
		defer os.Unsetenv("THREATCORE_TEST_DURATION_INVALID")
		got := GetEnvDuration("THREATCORE_TEST_DURATION_INVALID", 7*time.Second)
		if got != 7*time.Second {
			t.Errorf("GetEnvDuration(invalid) = %v, want 7s", got)
		}
	})
}

func TestGetEnvInt(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 42},
		{"valid", "100", 100},
		{"padded", " 7 ", 7},
		{"invalid", "ten", 42},
		{"float", "1.5", 42},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			os.Setenv("THREATCORE_TEST_INT", tc.value)
			defer os.Unsetenv("THREATCORE_TEST_INT")
			if got := GetEnvInt("THREATCORE_TEST_INT", 42); got != tc.want {
				t.Errorf("GetEnvInt(%q) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	os.Setenv("THREATCORE_TEST_FLOAT", "0.25")
	defer os.Unsetenv("THREATCORE_TEST_FLOAT")
	if got := GetEnvFloat("THREATCORE_TEST_FLOAT", 0.1); got != 0.25 {
		t.Errorf("GetEnvFloat = %v, want 0.25", got)
	}
	os.Setenv("THREATCORE_TEST_FLOAT", "lots")
	if got := GetEnvFloat("THREATCORE_TEST_FLOAT", 0.1); got != 0.1 {
		t.Errorf("GetEnvFloat(invalid) = %v, want 0.1", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	os.Setenv("THREATCORE_TEST_BOOL", "true")
	defer os.Unsetenv("THREATCORE_TEST_BOOL")
	if !GetEnvBool("THREATCORE_TEST_BOOL", false) {
		t.Error("GetEnvBool(true) = false")
	}
	os.Setenv("THREATCORE_TEST_BOOL", "maybe")
	if !GetEnvBool("THREATCORE_TEST_BOOL", true) {
		t.Error("GetEnvBool(invalid) should return default")
	}
}

func TestDefaultServiceConfig(t *testing.T) {
	os.Unsetenv("CONNECTOR_KIND")
	os.Unsetenv("WINDOW_CAPACITY")
	cfg := DefaultServiceConfig()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.WindowCapacity != 100 || cfg.AnomalyHistoryCapacity != 1000 {
		t.Errorf("capacities = %d/%d", cfg.WindowCapacity, cfg.AnomalyHistoryCapacity)
	}
	if cfg.AnomalyContamination != 0.1 {
		t.Errorf("AnomalyContamination = %v", cfg.AnomalyContamination)
	}
	if cfg.Correlation.Window != time.Hour || cfg.Correlation.FloodMinEvents != 20 {
		t.Errorf("Correlation = %+v", cfg.Correlation)
	}
	if cfg.Connector.Enabled() {
		t.Error("connector should be disabled when CONNECTOR_KIND is unset")
	}
	if cfg.Connector.RateLimit != 10 || cfg.Connector.RateBurst != 20 {
		t.Errorf("connector rate = %v/%d", cfg.Connector.RateLimit, cfg.Connector.RateBurst)
	}
	if cfg.Connector.QueueSize != 1000 {
		t.Errorf("connector queue = %d, want 1000", cfg.Connector.QueueSize)
	}
}

func TestDefaultServiceConfig_Overrides(t *testing.T) {
	os.Setenv("WINDOW_CAPACITY", "250")
	os.Setenv("CONNECTOR_KIND", "TheHive")
	os.Setenv("CORRELATION_WINDOW", "15m")
	defer func() {
		os.Unsetenv("WINDOW_CAPACITY")
		os.Unsetenv("CONNECTOR_KIND")
		os.Unsetenv("CORRELATION_WINDOW")
	}()
	cfg := DefaultServiceConfig()
	if cfg.WindowCapacity != 250 {
		t.Errorf("WindowCapacity = %d", cfg.WindowCapacity)
	}
	if cfg.Connector.Kind != "thehive" || !cfg.Connector.Enabled() {
		t.Errorf("Connector = %+v", cfg.Connector)
	}
	if cfg.Correlation.Window != 15*time.Minute {
		t.Errorf("Correlation.Window = %v", cfg.Correlation.Window)
	}
}

func TestDefaultClientConfig(t *testing.T) {
	os.Unsetenv("THREATCORE_ENDPOINT")
	if got := DefaultClientConfig().Endpoint; got != "http://localhost:8080" {
		t.Errorf("Endpoint = %q", got)
	}
}
