package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Client speaks the admin line protocol.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr and, when password is non-empty, authenticates.
func Dial(ctx context.Context, addr, password string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to admin channel: %w", err)
	}
	c := &Client{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, maxLineSize),
		timeout: 30 * time.Second,
	}
	if password != "" {
		resp, err := c.Exec("auth " + password)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if resp != "authOk" {
			conn.Close()
			return nil, errors.New("admin authentication failed")
		}
	}
	return c, nil
}

// Exec sends one command line and returns the reply line.
func (c *Client) Exec(line string) (string, error) {
	if strings.ContainsAny(line, "\r\n") {
		return "", errors.New("command must be a single line")
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}
	resp, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// Close ends the session.
func (c *Client) Close() error {
	_, _ = c.conn.Write([]byte("quit\n"))
	return c.conn.Close()
}

// EncodePayload renders v as a single-token command argument.
func EncodePayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return url.PathEscape(string(b)), nil
}

// SplitReply separates a reply into its verb and payload. Error replies
// are returned as errors.
func SplitReply(resp string) (verb, payload string, err error) {
	if msg, ok := strings.CutPrefix(resp, "Error:"); ok {
		return "", "", errors.New(msg)
	}
	verb, payload, _ = strings.Cut(resp, " ")
	return verb, payload, nil
}
