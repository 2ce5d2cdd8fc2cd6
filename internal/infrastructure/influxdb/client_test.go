package influxdb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/relaykvm/relaykvm-core/internal/infrastructure/config"
	"github.com/relaykvm/relaykvm-core/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for the local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "relaykvm-dev-token",
		Org:           "relaykvm",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_UnreachableServer(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:19999"

	_, err := influxdb.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() expected error for unreachable server")
	}
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := skipIfNoInfluxDB(t)
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	client := skipIfNoInfluxDB(t)
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteStreamerState(t *testing.T) {
	client := skipIfNoInfluxDB(t)
	defer client.Close()

	var writeErr error
	client.SetOnError(func(err error) {
		writeErr = err
	})

	client.WriteStreamerState("relaykvm-test", true, 3)
	client.WriteStreamerState("relaykvm-test", false, 4)
	client.Flush()

	if writeErr != nil {
		t.Errorf("async write error: %v", writeErr)
	}
}

func TestWriteStreamerEvent(t *testing.T) {
	client := skipIfNoInfluxDB(t)
	defer client.Close()

	client.WriteStreamerEvent("relaykvm-test", "process_exited")
	client.WriteStreamerEvent("relaykvm-test", "device_missing")
	client.Flush()
}

func TestWriteAfterClose(t *testing.T) {
	client := skipIfNoInfluxDB(t)
	client.Close()

	// Writes after Close must be silently dropped, not panic.
	client.WriteStreamerState("relaykvm-test", true, 0)
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client = %v, want nil", err)
	}
}
