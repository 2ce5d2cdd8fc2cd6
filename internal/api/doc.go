// Package api implements the HTTP REST API and WebSocket server for RelayKVM Core.
//
// This package provides:
//   - REST endpoints for streamer control, video device discovery, and the event journal
//   - WebSocket hub for real-time streamer state broadcasts
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator interfaces (web admin, fleet tooling)
// and the streamer supervisor. Control requests flow from the API to the
// supervisor facade, and state changes flow back to WebSocket clients and the
// MQTT bus.
//
// # Security
//
// Authentication uses JWT tokens signed with the configured secret; the
// credentials come from the security.auth config section. WebSocket
// connections use single-use tickets to prevent token leakage in URLs.
// The appliance is single-operator, so there is no user database or RBAC.
package api
