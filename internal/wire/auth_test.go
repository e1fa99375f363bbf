package wire

import (
	"bufio"
	"net"
	"testing"
)

func TestAuthenticateKnockRoundTrip(t *testing.T) {
	secret := make([]byte, 300)
	for i := range secret {
		secret[i] = byte('a' + i%26)
	}

	workerConn, masterConn := net.Pipe()
	defer workerConn.Close()
	defer masterConn.Close()

	errCh := make(chan error, 1)
	go func() {
		r := bufio.NewReader(workerConn)
		w := bufio.NewWriter(workerConn)
		errCh <- Authenticate(r, w, workerConn.RemoteAddr(), "", secret)
	}()

	mr := bufio.NewReader(masterConn)
	mw := bufio.NewWriter(masterConn)
	if err := Knock(mr, mw, secret); err != nil {
		t.Fatalf("Knock: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	workerSecret := make([]byte, 300)
	masterSecret := make([]byte, 300)
	for i := range workerSecret {
		workerSecret[i] = byte('a' + i%26)
		masterSecret[i] = byte('b' + i%26)
	}

	workerConn, masterConn := net.Pipe()
	defer workerConn.Close()
	defer masterConn.Close()

	errCh := make(chan error, 1)
	go func() {
		r := bufio.NewReader(workerConn)
		w := bufio.NewWriter(workerConn)
		errCh <- Authenticate(r, w, workerConn.RemoteAddr(), "", workerSecret)
	}()

	mr := bufio.NewReader(masterConn)
	mw := bufio.NewWriter(masterConn)
	_ = Knock(mr, mw, masterSecret)
	if err := <-errCh; err == nil {
		t.Fatalf("expected Authenticate to fail on mismatched secret")
	}
}
