//go:build tools
// +build tools

// Package tools tracks mockgen so `go generate ./...` works on a fresh checkout.
package pelusadm

import (
	_ "go.uber.org/mock/mockgen"
)
