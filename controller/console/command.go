package console

import "strings"

// Command is one parsed console request. The set of commands is closed.
type Command interface {
	Name() string
	command()
}

type (
	ModeCommand        struct{}
	RebootCommand      struct{}
	SensorReadCommand  struct{}
	SensorShowCommand  struct{}
	SensorR0Command    struct{}
	TimeCommand        struct{}
	StoreStatusCommand struct{}
	StatusCommand      struct{}
	HelpCommand        struct{}
	// UnknownCommand carries text that matched nothing. It is echoed back.
	UnknownCommand struct{ Text string }
)

func (ModeCommand) Name() string        { return "mode" }
func (RebootCommand) Name() string      { return "reboot" }
func (SensorReadCommand) Name() string  { return "sensor read" }
func (SensorShowCommand) Name() string  { return "sensor show" }
func (SensorR0Command) Name() string    { return "sensor r0" }
func (TimeCommand) Name() string        { return "time" }
func (StoreStatusCommand) Name() string { return "store status" }
func (StatusCommand) Name() string      { return "status" }
func (HelpCommand) Name() string        { return "help" }
func (UnknownCommand) Name() string     { return "unknown" }

func (ModeCommand) command()        {}
func (RebootCommand) command()      {}
func (SensorReadCommand) command()  {}
func (SensorShowCommand) command()  {}
func (SensorR0Command) command()    {}
func (TimeCommand) command()        {}
func (StoreStatusCommand) command() {}
func (StatusCommand) command()      {}
func (HelpCommand) command()        {}
func (UnknownCommand) command()     {}

var commands = map[string]Command{
	"mode":            ModeCommand{},
	"reboot":          RebootCommand{},
	"sensor read":     SensorReadCommand{},
	"read sensor":     SensorReadCommand{},
	"sensor show":     SensorShowCommand{},
	"show sensor":     SensorShowCommand{},
	"sensor r0":       SensorR0Command{},
	"time":            TimeCommand{},
	"firebase status": StoreStatusCommand{},
	"store status":    StoreStatusCommand{},
	"status":          StatusCommand{},
	"help":            HelpCommand{},
}

var usage = []string{
	"mode          print the operating mode",
	"reboot        restart the node",
	"sensor read   take a fresh batch of readings (radio drops briefly)",
	"sensor show   print the last batch",
	"sensor r0     print the calibration baseline",
	"time          print the wall clock",
	"store status  print the telemetry store state",
	"status        print node diagnostics",
	"help          print this help",
}

// Parse matches text exactly, after dropping a trailing line ending.
func Parse(text string) Command {
	key := strings.TrimRight(text, "\r\n")
	if c, ok := commands[key]; ok {
		return c
	}
	return UnknownCommand{Text: key}
}
