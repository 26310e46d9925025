package fixtures

import "github.com/fenwick/escore"

// EventEnvelopes wraps a slice of VersionedEvents as Envelope[VersionedEvent]
// under one shared correlation and trace id, mirroring what Store.Save
// produces for a batch of pending events.
func EventEnvelopes(correlationId, traceId string, events ...escore.VersionedEvent) []escore.Envelope[escore.VersionedEvent] {
	envelopes := make([]escore.Envelope[escore.VersionedEvent], len(events))
	for i, event := range events {
		envelopes[i] = escore.NewEnvelope[escore.VersionedEvent](event, correlationId, traceId)
	}
	return envelopes
}

// CommandEnvelopes wraps a slice of Commands as Envelope[Command] under one
// shared correlation and trace id.
func CommandEnvelopes(correlationId, traceId string, commands ...escore.Command) []escore.Envelope[escore.Command] {
	envelopes := make([]escore.Envelope[escore.Command], len(commands))
	for i, command := range commands {
		envelopes[i] = escore.NewEnvelope[escore.Command](command, correlationId, traceId)
	}
	return envelopes
}
