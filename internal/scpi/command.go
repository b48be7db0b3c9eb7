// Package scpi holds the command tables, response parsers and ARB data codec
// used to talk to SCPI-style instruments.
package scpi

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/SaraRegibo/cgse/internal/device"
)

// Terminator ends every command sent to an instrument.
const Terminator = "\n"

// CommandType tells whether a command expects a reply.
type CommandType int

const (
	// Write sends the command and returns immediately.
	Write CommandType = iota
	// Transaction sends the command and waits for the reply.
	Transaction
)

func (t CommandType) String() string {
	if t == Transaction {
		return "transaction"
	}
	return "write"
}

// ParseFunc converts the raw reply of a transaction.
type ParseFunc func(reply []byte) (interface{}, error)

// Args are the values substituted into a command template.
type Args map[string]string

// Command maps an operation name onto its wire template.
type Command struct {
	Name     string
	Type     CommandType
	Template string
	Parse    ParseFunc
}

// Render substitutes the ${name} placeholders of the template and appends the terminator.
func (c Command) Render(args Args) (string, error) {
	var missing []string
	s := os.Expand(c.Template, func(key string) string {
		value, ok := args[key]
		if !ok {
			missing = append(missing, key)
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("command %s: missing argument(s) %s", c.Name, strings.Join(missing, ", "))
	}
	return s + Terminator, nil
}

// Table is an ordered set of commands.
type Table struct {
	order    []string
	commands map[string]Command
}

// NewTable builds a table; a duplicate name replaces the earlier command.
func NewTable(commands ...Command) *Table {
	t := &Table{commands: make(map[string]Command, len(commands))}
	for _, cmd := range commands {
		if _, exists := t.commands[cmd.Name]; !exists {
			t.order = append(t.order, cmd.Name)
		}
		t.commands[cmd.Name] = cmd
	}
	return t
}

// Lookup returns the command registered under name.
func (t *Table) Lookup(name string) (Command, bool) {
	cmd, ok := t.commands[name]
	return cmd, ok
}

// Render looks up name and renders it with args.
func (t *Table) Render(name string, args Args) (string, error) {
	cmd, ok := t.Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown command: %s", name)
	}
	return cmd.Render(args)
}

// Names returns the command names in registration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.order))
	copy(names, t.order)
	return names
}

// SortedNames returns the command names in lexical order.
func (t *Table) SortedNames() []string {
	names := t.Names()
	sort.Strings(names)
	return names
}

// Executor runs table commands over a transport. Write/read pairs are
// serialized so that concurrent callers never interleave replies.
type Executor struct {
	mu        sync.Mutex
	deviceID  string
	transport device.Transport
	table     *Table
}

// NewExecutor binds a command table to a transport.
func NewExecutor(deviceID string, transport device.Transport, table *Table) *Executor {
	return &Executor{deviceID: deviceID, transport: transport, table: table}
}

// Transport returns the underlying transport.
func (e *Executor) Transport() device.Transport {
	return e.transport
}

// Execute renders the named command and sends it. Transactions return the
// parsed reply, or the trimmed reply when the command has no parser.
func (e *Executor) Execute(ctx context.Context, name string, args Args) (interface{}, error) {
	cmd, ok := e.table.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	wire, err := cmd.Render(args)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.transport.Write(ctx, wire); err != nil {
		return nil, err
	}
	if cmd.Type == Write {
		return nil, nil
	}

	reply, err := e.transport.Read(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Parse == nil {
		return strings.TrimRight(DecodeLatin1(reply), " \t\r\n"), nil
	}

	value, err := cmd.Parse(reply)
	if err != nil {
		return nil, device.DeviceError(e.deviceID, fmt.Sprintf("cannot parse reply to %s", name), err)
	}
	return value, nil
}

// IsConnected runs the transport identity check without interleaving with a
// command in flight.
func (e *Executor) IsConnected(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.IsConnected(ctx)
}
