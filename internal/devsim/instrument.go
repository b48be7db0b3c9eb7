// Package devsim serves simulated SCPI instruments over TCP so that
// controllers and transports can be exercised without hardware.
package devsim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned once the instrument has been closed.
var ErrClosed = errors.New("instrument closed")

// queueOverflow is the SCPI error reported when the command queue is full.
const queueOverflow = `-350,"Queue overflow"`

// Command is one parsed line sent to the instrument.
type Command struct {
	// Header is the upper-cased mnemonic without the trailing '?'.
	Header string
	Query  bool
	// Args is everything after the first blank, blocks included.
	Args string
}

// ParseCommand splits a command line, without its terminator, into header,
// query flag and arguments.
func ParseCommand(line string) Command {
	head, args, _ := strings.Cut(line, " ")
	head = strings.ToUpper(strings.TrimSpace(head))
	query := strings.HasSuffix(head, "?")
	return Command{Header: strings.TrimSuffix(head, "?"), Query: query, Args: args}
}

// Reply is the outcome of one command. Writes produce no reply.
type Reply struct {
	Data []byte
	OK   bool
}

func reply(s string) Reply {
	return Reply{Data: []byte(s), OK: true}
}

type request struct {
	cmd      Command
	response chan Reply
}

// Options tune an Instrument.
type Options struct {
	// QueueSize bounds the pending commands. Defaults to 64.
	QueueSize int
	// EnqueueTimeout is how long a command may wait for a queue slot.
	EnqueueTimeout time.Duration
}

// Instrument holds the register store of a simulated device. Commands are
// executed one at a time, in arrival order, by a single worker.
type Instrument struct {
	profile *Profile

	mu       sync.Mutex
	channel  int
	channels []map[string]string
	global   map[string]string
	blocks   map[string][]byte
	errors   []string
	eer      int
	qer      int

	queue   chan request
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewInstrument starts the worker of a simulated device.
func NewInstrument(profile *Profile, opts Options) *Instrument {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instrument{
		profile: profile,
		queue:   make(chan request, opts.QueueSize),
		timeout: opts.EnqueueTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	inst.reset()

	inst.wg.Add(1)
	go inst.worker()
	return inst
}

// Profile returns the simulated model.
func (i *Instrument) Profile() *Profile {
	return i.profile
}

func (i *Instrument) worker() {
	defer i.wg.Done()
	for {
		select {
		case req := <-i.queue:
			req.response <- i.process(req.cmd)
		case <-i.ctx.Done():
			return
		}
	}
}

// Execute queues cmd and waits for its outcome. A full queue answers queries
// with a queue overflow error and records it in the error registers.
func (i *Instrument) Execute(ctx context.Context, cmd Command) (Reply, error) {
	req := request{cmd: cmd, response: make(chan Reply, 1)}

	select {
	case i.queue <- req:
	case <-time.After(i.timeout):
		i.mu.Lock()
		i.eer++
		i.errors = append(i.errors, queueOverflow)
		i.mu.Unlock()
		if cmd.Query {
			return reply(queueOverflow), nil
		}
		return Reply{}, nil
	case <-i.ctx.Done():
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-req.response:
		return r, nil
	case <-i.ctx.Done():
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Close stops the worker.
func (i *Instrument) Close() error {
	i.cancel()
	i.wg.Wait()
	return nil
}

func (i *Instrument) reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resetLocked()
}

func (i *Instrument) resetLocked() {
	n := i.profile.Channels
	if n < 1 {
		n = 1
	}
	i.channel = 1
	i.channels = make([]map[string]string, n)
	for c := range i.channels {
		i.channels[c] = make(map[string]string)
		for k, v := range i.profile.Defaults {
			if !i.profile.isGlobal(k) {
				i.channels[c][k] = v
			}
		}
	}
	i.global = make(map[string]string)
	for k, v := range i.profile.Defaults {
		if i.profile.isGlobal(k) {
			i.global[k] = v
		}
	}
	i.blocks = make(map[string][]byte)
}

func (i *Instrument) process(cmd Command) Reply {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch cmd.Header {
	case "*IDN":
		return reply(i.profile.Identity)
	case "*RST":
		i.resetLocked()
		return Reply{}
	case "*CLS":
		i.eer, i.qer, i.errors = 0, 0, nil
		return Reply{}
	case "*OPC":
		if cmd.Query {
			return reply("1")
		}
		return Reply{}
	case "*STB", "*ESR":
		return reply("0")
	case "*TRG", "*WAI", "*SAV", "*RCL", "BEEP", "LOCAL", "ALIGN":
		return Reply{}
	}

	if i.profile.Handle != nil {
		if r, handled := i.profile.Handle(&Registers{inst: i}, cmd); handled {
			return r
		}
	}

	if cmd.Query {
		v, ok := i.getLocked(cmd.Header)
		if !ok {
			i.qer++
			i.errors = append(i.errors, `-113,"Undefined header"`)
			return Reply{}
		}
		return reply(v)
	}
	if cmd.Args == "" {
		i.eer++
		i.errors = append(i.errors, `-109,"Missing parameter"`)
		return Reply{}
	}
	i.setLocked(cmd.Header, strings.TrimSpace(cmd.Args))
	return Reply{}
}

func (i *Instrument) store(header string) map[string]string {
	if i.profile.isGlobal(header) {
		return i.global
	}
	return i.channels[i.channel-1]
}

func (i *Instrument) getLocked(header string) (string, bool) {
	v, ok := i.store(header)[header]
	return v, ok
}

func (i *Instrument) setLocked(header, value string) {
	i.store(header)[header] = value
}

// Registers gives profile handlers access to the instrument state while the
// worker holds its lock.
type Registers struct {
	inst *Instrument
}

// Get returns the stored value of header.
func (r *Registers) Get(header string) (string, bool) {
	return r.inst.getLocked(header)
}

// Set stores value under header.
func (r *Registers) Set(header, value string) {
	r.inst.setLocked(header, value)
}

// Float returns the stored value of header as a number, 0 when absent.
func (r *Registers) Float(header string) float64 {
	v, _ := r.inst.getLocked(header)
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

// Channel returns the selected channel.
func (r *Registers) Channel() int {
	return r.inst.channel
}

// SelectChannel changes the selected channel.
func (r *Registers) SelectChannel(ch int) error {
	if ch < 1 || ch > len(r.inst.channels) {
		return fmt.Errorf("channel %d out of range", ch)
	}
	r.inst.channel = ch
	return nil
}

// Block returns the binary block stored under name.
func (r *Registers) Block(name string) ([]byte, bool) {
	b, ok := r.inst.blocks[name]
	return b, ok
}

// SetBlock stores a binary block.
func (r *Registers) SetBlock(name string, b []byte) {
	r.inst.blocks[name] = append([]byte(nil), b...)
}

// ExecutionError records an execution error.
func (r *Registers) ExecutionError(entry string) {
	r.inst.eer++
	r.inst.errors = append(r.inst.errors, entry)
}

// PopError removes and returns the oldest error, "" when the queue is empty.
func (r *Registers) PopError() string {
	if len(r.inst.errors) == 0 {
		return ""
	}
	e := r.inst.errors[0]
	r.inst.errors = r.inst.errors[1:]
	return e
}

// TakeExecutionErrors returns and clears the execution error register.
func (r *Registers) TakeExecutionErrors() int {
	n := r.inst.eer
	r.inst.eer = 0
	return n
}

// TakeQueryErrors returns and clears the query error register.
func (r *Registers) TakeQueryErrors() int {
	n := r.inst.qer
	r.inst.qer = 0
	return n
}
