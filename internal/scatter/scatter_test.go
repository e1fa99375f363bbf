package scatter

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"

	"quickdb/internal/planir"
	"quickdb/internal/sharedvalue"
	"quickdb/internal/wire"
)

// stubWorker plays the worker side of one connection: authenticates,
// reads the start message, sends one progress update, then a result.
func stubWorker(t *testing.T, conn net.Conn, secret []byte, total int) {
	t.Helper()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	if err := wire.Authenticate(r, w, conn.RemoteAddr(), "", secret); err != nil {
		t.Errorf("stub Authenticate: %v", err)
		return
	}
	msg, err := wire.ReadMessage(r)
	if err != nil {
		t.Errorf("stub ReadMessage: %v", err)
		return
	}
	if msg.Type != wire.MsgStart {
		t.Errorf("expected start message, got %s", msg.Type)
		return
	}

	_ = wire.WriteMessage(w, wire.ProgressMessage(1, total))
	_ = wire.WriteMessage(w, wire.Message{Type: wire.MsgResult})
	values := sharedvalue.Map{"count": sharedvalue.ScalarOf(float64(total))}
	_ = wire.WriteEnvelope(w, values)
	_ = w.Flush()
}

func dialPipePair(t *testing.T, addrs []string, secret []byte) Dialer {
	t.Helper()
	var mu sync.Mutex
	return func(ctx context.Context, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		mu.Lock()
		defer mu.Unlock()
		go stubWorker(t, server, secret, 4)
		return client, nil
	}
}

func TestScatterRunCollectsResults(t *testing.T) {
	secret := make([]byte, 300)
	for i := range secret {
		secret[i] = byte('a' + i%26)
	}
	addrs := []string{"w1:1", "w2:1"}

	s := &Scatter{Addrs: addrs, Secret: secret, Dial: dialPipePair(t, addrs, secret)}
	job, err := planir.Compile("job-1", "SELECT COUNT(*) FROM test", nil, 0)
	if err != nil {
		t.Fatalf("planir.Compile: %v", err)
	}

	var progressCalls int
	results, err := s.Run(context.Background(), job, func(done, total int) { progressCalls++ })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 worker results, got %d", len(results))
	}
	for _, res := range results {
		n, err := res.Result["count"].AsFloat64()
		if err != nil || n != 4 {
			t.Fatalf("expected count=4, got %v err=%v", n, err)
		}
	}
	if progressCalls == 0 {
		t.Fatalf("expected at least one progress callback")
	}
}
