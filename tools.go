// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

//go:build tools

// Package main pins the ginkgo CLI used to run the lifecycle and store
// suites (ginkgo -r --race ./internal/...).
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
