// Package server implements the relay's connection gateway and HTTP surface.
//
// A Gateway upgrades /ws requests, authenticates the token query parameter
// and moves each Client through Connecting, Authenticating, Active and
// Closed. Inbound frames are parsed by package protocol and routed by
// package relay. The files are split by concern: configuration, origin
// policy, rate limiting, clients, the gateway, routing and HTTP handlers.
package server
