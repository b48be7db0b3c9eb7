package devsim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Server answers SCPI commands on a TCP port, one connection per client.
type Server struct {
	inst   *Instrument
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	idle     time.Duration
}

// NewServer serves inst.
func NewServer(inst *Instrument, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		inst:   inst,
		logger: logger.With("component", "devsim", "profile", inst.Profile().Name),
		conns:  make(map[net.Conn]struct{}),
		idle:   10 * time.Minute,
	}
}

// Listen binds addr; port 0 picks a free port.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.logger.Info("simulator listening", "address", l.Addr().String())
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.logger.Debug("client connected", "client", conn.RemoteAddr().String())
	r := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.idle))
		line, err := readCommand(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", "client", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		rep, err := s.inst.Execute(ctx, ParseCommand(string(line)))
		if err != nil {
			return
		}
		if !rep.OK {
			continue
		}
		if _, err := conn.Write(append(rep.Data, '\r', '\n')); err != nil {
			return
		}
	}
}

// readCommand reads up to the next newline. Definite length blocks
// ("#<n><length><bytes>") following a blank are read verbatim so that their
// payload may hold newline bytes.
func readCommand(r *bufio.Reader) ([]byte, error) {
	var line []byte
	var prev byte
	block := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case b == '\n':
			if !block && len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			return line, nil
		case b == '#' && prev == ' ':
			payload, err := readBlock(r)
			if err != nil {
				return nil, err
			}
			line = append(line, '#')
			line = append(line, payload...)
			block = true
			prev = 0
			continue
		}
		line = append(line, b)
		prev = b
	}
}

// maxBlockSize bounds the payload of a definite length block.
const maxBlockSize = 1 << 20

// readBlock reads "<n><length><bytes>" after the '#'.
func readBlock(r *bufio.Reader) ([]byte, error) {
	d, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	ndigits := int(d - '0')
	if ndigits < 1 || ndigits > 9 {
		return nil, fmt.Errorf("invalid block header digit %q", d)
	}
	digits := make([]byte, ndigits)
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("invalid block length %q", digits)
	}
	if length > maxBlockSize {
		return nil, fmt.Errorf("block of %d bytes exceeds %d", length, maxBlockSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	out := append([]byte{d}, digits...)
	return append(out, data...), nil
}

// Close stops accepting and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for conn := range s.conns {
		if cerr := conn.Close(); !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}
