// Package mqtt provides MQTT client connectivity for RelayKVM Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// RelayKVM uses MQTT to expose the streamer to fleet tooling: the
// appliance publishes retained state snapshots and lifecycle events,
// and accepts start/stop commands.
//
//	RelayKVM Core ↔ MQTT Broker ↔ Fleet controllers / dashboards
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to streamer commands
//	err = client.Subscribe(mqtt.Topics{}.StreamerCommand(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish state
//	topic := mqtt.Topics{}.StreamerState()
//	client.Publish(topic, []byte(`{"is_running":true}`), 1, true)
package mqtt
