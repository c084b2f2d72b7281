// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the HTTP client for the persistence gateway: the
// service that stores readings and anomaly verdicts.
//
// Every failure is classified as either [ErrStorageUnavailable]
// (transient: network errors, timeouts, 408, 429, 5xx) or
// [ErrStorageRejected] (the gateway understood the request and refused
// it). Callers decide whether to retry on that classification alone.
// The HTTP status and server message are available through
// [StoreError]:
//
//	var storeErr *gateway.StoreError
//	if errors.As(err, &storeErr) && storeErr.StatusCode == http.StatusConflict { ... }
package gateway
