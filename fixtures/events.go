// Package fixtures provides hand-rolled test doubles and builders for
// exercising the core without a real database or message broker — plain
// structs and functional builders, no mocking framework.
package fixtures

import (
	"fmt"

	"github.com/fenwick/escore"
)

// TestEvent is a minimal concrete escore.Event for exercising aggregates,
// serializers, and dispatchers without a real domain model.
type TestEvent struct {
	escore.BaseMessage
	Data string
}

func (TestEvent) EventType() string { return "TestEvent" }

// NewTestEvent constructs a TestEvent carrying data.
func NewTestEvent(data string) TestEvent {
	return TestEvent{BaseMessage: escore.NewBaseMessage(), Data: data}
}

// OtherTestEvent is a second concrete event type, distinct from TestEvent,
// for exercising type-keyed dispatch where more than one registered type
// must coexist.
type OtherTestEvent struct {
	escore.BaseMessage
	Data string
}

func (OtherTestEvent) EventType() string { return "OtherTestEvent" }

// NewOtherTestEvent constructs an OtherTestEvent carrying data.
func NewOtherTestEvent(data string) OtherTestEvent {
	return OtherTestEvent{BaseMessage: escore.NewBaseMessage(), Data: data}
}

// Versioned wraps event as a VersionedEvent on stream (sourceId, sourceType)
// at version, with no correlation id set — a convenience for tests that
// build history directly rather than producing it through Update.
func Versioned(event escore.Event, sourceId, sourceType string, version uint64) escore.VersionedEvent {
	return escore.VersionedEvent{
		Event:      event,
		SourceId:   sourceId,
		SourceType: sourceType,
		Version:    version,
	}
}

// VersionedHistory builds an ascending-version history of n TestEvents for
// (sourceId, sourceType), each carrying a sequential Data value.
func VersionedHistory(sourceId, sourceType string, n int) []escore.VersionedEvent {
	history := make([]escore.VersionedEvent, n)
	for i := 0; i < n; i++ {
		history[i] = Versioned(NewTestEvent(fmt.Sprintf("event-%d", i+1)), sourceId, sourceType, uint64(i+1))
	}
	return history
}
