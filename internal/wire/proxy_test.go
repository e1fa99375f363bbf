package wire

import (
	"io"
	"net"
	"testing"
)

func TestRelayCopiesBothDirections(t *testing.T) {
	aSrv, aCli := net.Pipe()
	bSrv, bCli := net.Pipe()

	relayDone := make(chan error, 1)
	go func() { relayDone <- Relay(aSrv, bSrv) }()

	go func() {
		_, _ = aCli.Write([]byte("ping"))
		aCli.Close()
	}()

	buf := make([]byte, 4)
	if _, err := io.ReadFull(bCli, buf); err != nil {
		t.Fatalf("reading relayed bytes: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("expected %q, got %q", "ping", buf)
	}
	bCli.Close()
	<-relayDone
}
