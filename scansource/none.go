// Package scansource provides the scan sources that feed observed identifiers
// into a guarding session.
package scansource

import "github.com/alexandrut83/sentinel/sentinel"

// None is a source that never delivers anything. Observations reach the
// engine only through the control API.
type None struct{}

// Start implements sentinel.ScanSource
func (None) Start(sentinel.ScanSink) error { return nil }

// Stop implements sentinel.ScanSource
func (None) Stop() error { return nil }
