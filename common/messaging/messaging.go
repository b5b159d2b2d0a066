// Package messaging defines the broker-agnostic publishing contract used by
// services that emit operational notifications.
package messaging

import "context"

// Publisher publishes payloads to subjects.
type Publisher interface {
	// Publish sends data to subject and waits for broker acknowledgement
	// where the implementation supports it.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}
