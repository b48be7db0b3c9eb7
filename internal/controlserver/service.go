package controlserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/proxy"
)

// serviceHandler answers one service request.
type serviceHandler func(ctx context.Context) (interface{}, error)

// serviceServer handles the service port: one JSON-RPC request and one reply
// per connection, from clients inside the allowed networks only.
type serviceServer struct {
	listener          net.Listener
	allowed           []*net.IPNet
	methods           map[string]serviceHandler
	connectionTimeout time.Duration
	logger            *slog.Logger

	wg sync.WaitGroup
}

func newServiceServer(l net.Listener, cidrs []string, methods map[string]serviceHandler, logger *slog.Logger) *serviceServer {
	s := &serviceServer{
		listener:          l,
		methods:           methods,
		connectionTimeout: 30 * time.Second,
		logger:            logger.With("port", "service"),
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			s.logger.Warn("invalid CIDR in settings", "cidr", cidr)
			continue
		}
		s.allowed = append(s.allowed, network)
	}
	return s
}

func (s *serviceServer) serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return
			}
			s.logger.Warn("failed to accept connection", "error", err)
			continue
		}

		if !s.isAllowedConnection(conn) {
			s.logger.Warn("rejected connection, not in allowed CIDRs", "client", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *serviceServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.connectionTimeout))

	var req commands.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Debug("failed to decode service request", "error", err)
		s.writeResponse(conn, &commands.Response{
			JSONRPC: "2.0",
			Error:   &commands.RPCError{Code: commands.CodeParseError, Message: "Parse error"},
		})
		return
	}

	if err := s.writeResponse(conn, s.process(ctx, &req)); err != nil {
		s.logger.Warn("failed to encode service response", "method", req.Method, "error", err)
		return
	}
	s.logger.Info("service command processed", "method", req.Method, "client", conn.RemoteAddr().String())
}

func (s *serviceServer) process(ctx context.Context, req *commands.Request) *commands.Response {
	if req.JSONRPC != "2.0" {
		return &commands.Response{JSONRPC: "2.0", Error: &commands.RPCError{Code: commands.CodeInvalidRequest, Message: "Invalid Request"}, ID: req.ID}
	}
	handler, ok := s.methods[req.Method]
	if !ok {
		return &commands.Response{JSONRPC: "2.0", Error: &commands.RPCError{Code: commands.CodeMethodNotFound, Message: "Method not found"}, ID: req.ID}
	}
	result, err := handler(ctx)
	if err != nil {
		return &commands.Response{JSONRPC: "2.0", Error: commands.ToRPCError(err), ID: req.ID}
	}
	return &commands.Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (s *serviceServer) writeResponse(conn net.Conn, resp *commands.Response) error {
	return json.NewEncoder(conn).Encode(resp)
}

func (s *serviceServer) isAllowedConnection(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return false
	}
	for _, network := range s.allowed {
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}

func (s *serviceServer) close() error {
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// serviceMethods are the methods answered on the service port.
func (srv *Server) serviceMethods() map[string]serviceHandler {
	return map[string]serviceHandler{
		proxy.MethodQuitServer: func(context.Context) (interface{}, error) {
			srv.Quit()
			return "Sent quit_server to control server", nil
		},
		proxy.MethodStatus: func(ctx context.Context) (interface{}, error) {
			return srv.Status(), nil
		},
		commands.MethodPing: func(context.Context) (interface{}, error) {
			return "pong", nil
		},
	}
}
