package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	maxLineSize = 64 * 1024
	idleTimeout = 10 * time.Minute
)

// Server accepts admin connections and feeds each line to a Console.
type Server struct {
	console      *Console
	passwordHash []byte
	logger       *slog.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a server. An empty passwordHash disables the auth
// handshake; otherwise it must be a bcrypt hash.
func NewServer(console *Console, passwordHash string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{console: console, logger: logger}
	if passwordHash != "" {
		s.passwordHash = []byte(passwordHash)
	}
	return s
}

// Listen binds the TCP address.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		return errors.New("addr is required")
	}
	if s.passwordHash != nil {
		if _, err := bcrypt.Cost(s.passwordHash); err != nil {
			return fmt.Errorf("invalid admin password hash: %w", err)
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done, then waits for open
// connections to finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server is not listening")
	}
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	s.logger.Info("admin channel listening", "addr", s.ln.Addr().String(), "auth", s.passwordHash != nil)
	defer s.wg.Wait()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("admin connection opened", "remote", remote)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	w := bufio.NewWriter(conn)
	send := func(line string) bool {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return false
		}
		return w.Flush() == nil
	}

	authed := s.passwordHash == nil
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !authed {
			pw, ok := strings.CutPrefix(line, "auth ")
			if !ok || bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pw)) != nil {
				s.logger.Warn("admin authentication failed", "remote", remote)
				send(errorReply("unauthorized"))
				return
			}
			authed = true
			if !send("authOk") {
				return
			}
			continue
		}

		if line == "quit" {
			return
		}
		if !send(s.console.Execute(connCtx, line)) {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug("admin connection closed", "remote", remote, "error", err)
	}
}
