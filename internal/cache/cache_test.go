package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemoryProviderTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryProvider()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("unexpected get: %q %v", got, err)
	}

	ok, _ := m.SetNX(ctx, "k", []byte("other"), 0)
	if ok {
		t.Fatalf("SetNX must not overwrite a live key")
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
	ok, _ = m.SetNX(ctx, "k", []byte("fresh"), 0)
	if !ok {
		t.Fatalf("SetNX should claim an expired key")
	}
	_ = m.Del(ctx, "k")
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestJSONHelpersAndKey(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()
	type doc struct{ IDs []string }
	if err := SetJSON(ctx, m, "docs", doc{IDs: []string{"a", "b"}}, 0); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var out doc
	if err := GetJSON(ctx, m, "docs", &out); err != nil || len(out.IDs) != 2 {
		t.Fatalf("unexpected get json: %+v %v", out, err)
	}
	if err := GetJSON(ctx, NoopProvider{}, "docs", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop provider must always miss, got %v", err)
	}

	a := Key("retrieval", "bgp flap", "4")
	b := Key("retrieval", "bgp flap", "5")
	if a == b || !strings.HasPrefix(a, "retrieval:") {
		t.Fatalf("unexpected keys %q %q", a, b)
	}
}

// fakeValkey serves GET/SET/DEL/PING/AUTH for a single test.
type fakeValkey struct {
	mu       sync.Mutex
	data     map[string]string
	password string
	ln       net.Listener
}

func startFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeValkey{data: make(map[string]string), password: password, ln: ln}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := f.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])
		if !authed && cmd != "AUTH" {
			io.WriteString(conn, "-NOAUTH Authentication required.\r\n")
			continue
		}
		f.mu.Lock()
		switch cmd {
		case "AUTH":
			if args[len(args)-1] == f.password {
				authed = true
				io.WriteString(conn, "+OK\r\n")
			} else {
				io.WriteString(conn, "-WRONGPASS invalid password\r\n")
			}
		case "PING":
			io.WriteString(conn, "+PONG\r\n")
		case "GET":
			if v, ok := f.data[args[1]]; ok {
				fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(v), v)
			} else {
				io.WriteString(conn, "$-1\r\n")
			}
		case "SET":
			_, exists := f.data[args[1]]
			if exists && strings.EqualFold(args[len(args)-1], "NX") {
				io.WriteString(conn, "$-1\r\n")
				break
			}
			f.data[args[1]] = args[2]
			io.WriteString(conn, "+OK\r\n")
		case "DEL":
			delete(f.data, args[1])
			io.WriteString(conn, ":1\r\n")
		default:
			io.WriteString(conn, "-ERR unknown command\r\n")
		}
		f.mu.Unlock()
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lenLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, _ := strconv.Atoi(strings.TrimSpace(lenLine[1:]))
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t, "s3cret")
	ctx := context.Background()

	p, err := NewValkeyProvider(ctx, ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "s3cret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := p.Set(ctx, "k", []byte("hello\r\nworld"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil || string(got) != "hello\r\nworld" {
		t.Fatalf("unexpected get: %q %v", got, err)
	}
	ok, err := p.SetNX(ctx, "k", []byte("x"), 0)
	if err != nil || ok {
		t.Fatalf("SetNX on existing key: ok=%v err=%v", ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, err = p.SetNX(ctx, "k", []byte("x"), 0)
	if err != nil || !ok {
		t.Fatalf("SetNX on free key: ok=%v err=%v", ok, err)
	}
}

func TestValkeyProviderRejectsBadPassword(t *testing.T) {
	srv := startFakeValkey(t, "s3cret")
	_, err := NewValkeyProvider(context.Background(), ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "nope"})
	if err == nil {
		t.Fatalf("expected auth failure")
	}
}
