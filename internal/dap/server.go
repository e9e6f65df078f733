package dap

import (
	"fmt"
	"io"
	"net"

	"github.com/dshills/luadap/internal/log"
)

// Server listens on a TCP port and spawns one Session per accepted
// connection. Sessions never share a Controller or Engine.
type Server struct {
	port                int
	log                 *log.Logger
	pauseOnEntryDefault bool
}

// NewServer creates a Server bound to localhost:port.
func NewServer(port int, logger *log.Logger, pauseOnEntryDefault bool) *Server {
	return &Server{port: port, log: logger, pauseOnEntryDefault: pauseOnEntryDefault}
}

// Run accepts connections until the listener fails, serving each one on
// its own goroutine.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	defer listener.Close()

	s.log.Info("listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}

		transport := NewRawTransport(conn)
		session := NewSession(transport, s.log, s.pauseOnEntryDefault)

		go func() {
			defer conn.Close()
			if err := session.Serve(); err != nil && err != io.EOF {
				s.log.Warn("session ended: %v", err)
			}
		}()
	}
}
