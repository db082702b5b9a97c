package logger

import (
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestReportCounters(t *testing.T) {
	IncrementOrderOpened()
	IncrementOrderClosed()
	IncrementBookUpdate("kraken_depth", 64)
	Logger().WithComponent("binance_venue").Warn("venue warning")

	fields, channels := snapshotFields()
	if fields["orders_opened"].(int64) < 1 || fields["orders_closed"].(int64) < 1 {
		t.Fatalf("order counters not recorded: %v", fields)
	}
	if fields["warns_venue"].(int64) < 1 {
		t.Fatalf("venue warning not recorded: %v", fields)
	}
	if stats, ok := channels["kraken_depth"]; !ok || stats["bytes"] < 64 {
		t.Fatalf("channel stats missing: %v", channels)
	}
}

func TestLogMetricWithoutCloudWatch(t *testing.T) {
	log := Logger()
	log.LogMetric("test", "requests", 3, "counter", Fields{"venue": "kraken"})
}
