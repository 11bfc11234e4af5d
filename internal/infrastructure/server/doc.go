// Package server boots the isolation kernel and serves its debug API.
//
// NewServer wires configuration, logging, metrics, the shared heap, the
// kernel and the domain supervisor in that order. Shutdown reverses it.
package server
