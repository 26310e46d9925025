package fixtures

import "github.com/fenwick/escore"

// TestCommand is a minimal concrete escore.Command targeting id.
type TestCommand struct {
	escore.BaseMessage
	Target string
	Data   string
}

func (c TestCommand) TargetID() string { return c.Target }

// NewTestCommand constructs a TestCommand targeting id.
func NewTestCommand(id, data string) TestCommand {
	return TestCommand{BaseMessage: escore.NewBaseMessage(), Target: id, Data: data}
}

// FailingCommand is a second concrete command type distinct from
// TestCommand, for exercising the command processor's no-handler path or
// type-keyed registration alongside TestCommand.
type FailingCommand struct {
	escore.BaseMessage
	Target string
}

func (c FailingCommand) TargetID() string { return c.Target }

// NewFailingCommand constructs a FailingCommand targeting id.
func NewFailingCommand(id string) FailingCommand {
	return FailingCommand{BaseMessage: escore.NewBaseMessage(), Target: id}
}
