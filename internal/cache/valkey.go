package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	PoolSize     int
}

func (c *ValkeyConfig) normalise() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
}

// ValkeyProvider speaks a minimal subset of RESP2 over a small pool of idle connections.
type ValkeyProvider struct {
	cfg  ValkeyConfig
	idle chan *respConn
}

// NewValkeyProvider pings the server before returning so bad credentials fail at boot.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.normalise()
	p := &ValkeyProvider{cfg: cfg, idle: make(chan *respConn, cfg.PoolSize)}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(pingCtx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.kind != '+' || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("valkey ping: unexpected reply %q", reply.data)
	}
	return p, nil
}

func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch {
	case reply.null:
		return nil, ErrCacheMiss
	case reply.kind == '$':
		return reply.data, nil
	default:
		return nil, fmt.Errorf("valkey GET: unexpected reply type %q", reply.kind)
	}
}

func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := p.do(ctx, setArgs(key, value, ttl)...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || string(reply.data) != "OK" {
		return fmt.Errorf("valkey SET: unexpected reply %q", reply.data)
	}
	return nil
}

func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := p.do(ctx, append(setArgs(key, value, ttl), "NX")...)
	if err != nil {
		return false, err
	}
	if reply.null {
		return false, nil
	}
	return reply.kind == '+', nil
}

func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close drains and closes pooled connections.
func (p *ValkeyProvider) Close() error {
	for {
		select {
		case c := <-p.idle:
			_ = c.conn.Close()
		default:
			return nil
		}
	}
}

func setArgs(key string, value []byte, ttl time.Duration) []any {
	args := []any{"SET", key, value}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	return args
}

// do runs one command, retrying transient network failures on a fresh connection.
func (p *ValkeyProvider) do(ctx context.Context, args ...any) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		c, err := p.acquire(ctx)
		if err == nil {
			var reply respReply
			reply, err = c.roundTrip(args...)
			if err == nil || isServerError(err) {
				p.release(c)
				return reply, err
			}
			_ = c.conn.Close()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return respReply{}, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * 25 * time.Millisecond):
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) acquire(ctx context.Context) (*respConn, error) {
	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		td := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	c := &respConn{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), cfg: p.cfg}
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (p *ValkeyProvider) release(c *respConn) {
	select {
	case p.idle <- c:
	default:
		_ = c.conn.Close()
	}
}

// serverError is an error reply ("-ERR ...") from the server. The connection stays usable.
type serverError string

func (e serverError) Error() string { return "valkey: " + string(e) }

func isServerError(err error) bool {
	var se serverError
	return errors.As(err, &se)
}

func retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

type respReply struct {
	kind byte
	data []byte
	null bool
}

type respConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	cfg  ValkeyConfig
}

func (c *respConn) handshake() error {
	if c.cfg.Password != "" {
		args := []any{"AUTH", c.cfg.Password}
		if c.cfg.Username != "" {
			args = []any{"AUTH", c.cfg.Username, c.cfg.Password}
		}
		if _, err := c.roundTrip(args...); err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
	}
	if c.cfg.DB > 0 {
		if _, err := c.roundTrip("SELECT", strconv.Itoa(c.cfg.DB)); err != nil {
			return fmt.Errorf("valkey select: %w", err)
		}
	}
	return nil
}

func (c *respConn) roundTrip(args ...any) (respReply, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return respReply{}, err
	}
	if err := c.writeArray(args); err != nil {
		return respReply{}, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	return c.readReply()
}

func (c *respConn) writeArray(args []any) error {
	fmt.Fprintf(c.w, "*%d\r\n", len(args))
	for _, arg := range args {
		var b []byte
		switch v := arg.(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			return fmt.Errorf("unsupported RESP argument %T", arg)
		}
		fmt.Fprintf(c.w, "$%d\r\n", len(b))
		c.w.Write(b)
		c.w.WriteString("\r\n")
	}
	return c.w.Flush()
}

func (c *respConn) readReply() (respReply, error) {
	line, err := c.readLine()
	if err != nil {
		return respReply{}, err
	}
	if len(line) == 0 {
		return respReply{}, errors.New("valkey: empty reply")
	}
	kind, body := line[0], line[1:]
	switch kind {
	case '+', ':':
		return respReply{kind: kind, data: body}, nil
	case '-':
		return respReply{}, serverError(body)
	case '_':
		return respReply{kind: kind, null: true}, nil
	case '$':
		size, err := strconv.Atoi(string(body))
		if err != nil {
			return respReply{}, fmt.Errorf("valkey: bad bulk length %q", body)
		}
		if size < 0 {
			return respReply{kind: kind, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("valkey: invalid bulk terminator")
		}
		return respReply{kind: kind, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("valkey: unexpected RESP prefix %q", kind)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.New("valkey: invalid line terminator")
	}
	return append([]byte(nil), line[:len(line)-2]...), nil
}
