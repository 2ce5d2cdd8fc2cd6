package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStreamerState writes a streamer state snapshot to InfluxDB.
//
// This is the primary telemetry method, called on every state change
// and on a periodic tick. The write is non-blocking; data is batched
// and sent asynchronously.
//
// Parameters:
//   - siteID: Appliance identifier (e.g., "relaykvm-rack-07")
//   - isRunning: Whether the supervisor loop is active
//   - restarts: Cumulative pipeline restart count
//
// Example:
//
//	client.WriteStreamerState("relaykvm-rack-07", true, 3)
func (c *Client) WriteStreamerState(siteID string, isRunning bool, restarts int) {
	if !c.IsConnected() {
		return
	}

	running := 0
	if isRunning {
		running = 1
	}

	point := write.NewPoint(
		"streamer_state",
		map[string]string{
			"site_id": siteID,
		},
		map[string]interface{}{
			"is_running": running,
			"restarts":   restarts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStreamerEvent writes a streamer lifecycle event marker.
//
// Used for correlating restarts and device losses against other
// fleet metrics.
//
// Parameters:
//   - siteID: Appliance identifier
//   - eventType: Lifecycle event (e.g., "process_exited", "device_missing")
func (c *Client) WriteStreamerEvent(siteID string, eventType string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"streamer_events",
		map[string]string{
			"site_id":    siteID,
			"event_type": eventType,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "relaykvm-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
