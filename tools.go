//go:build tools
// +build tools

// Package tools declares tool dependencies for this module.
//
// The blank import keeps mockgen pinned in go.mod so `go generate ./...`
// works on a fresh checkout.
package chat_relay

import (
	_ "go.uber.org/mock/mockgen"
)
