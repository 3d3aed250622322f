package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validConfig()

	os.Setenv("FLEXCAN_BRIDGE_BIT_RATE", "250000")
	os.Setenv("FLEXCAN_BRIDGE_MDNS_ENABLE", "true")
	os.Setenv("FLEXCAN_BRIDGE_LOOPBACK", "on")
	os.Setenv("FLEXCAN_BRIDGE_CAN_BASE", "0x4002B000")
	os.Setenv("FLEXCAN_BRIDGE_POLL_INTERVAL", "1ms")
	os.Setenv("FLEXCAN_BRIDGE_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("FLEXCAN_BRIDGE_BIT_RATE")
		os.Unsetenv("FLEXCAN_BRIDGE_MDNS_ENABLE")
		os.Unsetenv("FLEXCAN_BRIDGE_LOOPBACK")
		os.Unsetenv("FLEXCAN_BRIDGE_CAN_BASE")
		os.Unsetenv("FLEXCAN_BRIDGE_POLL_INTERVAL")
		os.Unsetenv("FLEXCAN_BRIDGE_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.bitRate != 250000 {
		t.Fatalf("expected bit-rate override, got %d", base.bitRate)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if !base.loopback {
		t.Fatalf("expected loopback true")
	}
	if base.canBase != 0x4002B000 {
		t.Fatalf("expected canBase 0x4002B000 got 0x%X", base.canBase)
	}
	if base.pollInterval != time.Millisecond {
		t.Fatalf("expected pollInterval 1ms got %v", base.pollInterval)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("FLEXCAN_BRIDGE_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("FLEXCAN_BRIDGE_BAUD") })
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	base := &appConfig{hubBuffer: 512}
	os.Setenv("FLEXCAN_BRIDGE_HUB_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("FLEXCAN_BRIDGE_HUB_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}

	base = &appConfig{canBase: 0x40024000}
	os.Setenv("FLEXCAN_BRIDGE_CAN_BASE", "zz")
	t.Cleanup(func() { os.Unsetenv("FLEXCAN_BRIDGE_CAN_BASE") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad base address")
	}
	if base.canBase != 0x40024000 {
		t.Fatalf("canBase changed on bad input: 0x%X", base.canBase)
	}
}
