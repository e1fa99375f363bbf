// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Auth implements the nonce/SHA-512 handshake run on every new
// master-worker connection (spec §4.8), grounded on datarake2/auth.py's
// authenticate/knock/safe_digest/Keychain.
//
// Authenticate and Knock take the connection's rfile/wfile (a
// *bufio.Reader/*bufio.Writer pair) rather than net.Conn directly,
// mirroring auth.py's own signature. This matters beyond style: a
// bufio.Reader buffers ahead of what it's asked to parse, so wrapping
// the same net.Conn in a second, independent bufio.Reader once the
// handshake finishes would silently strand any bytes the handshake's
// reader had already pulled off the wire. Callers construct the pair
// once per connection and keep using it for the rest of that
// connection's lifetime (control messages, envelopes, everything).

package wire

import (
	"bufio"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
)

const (
	minSecretLen = 256
	nonceBytes   = 64 // 512 bits
)

// AuthError is returned by Authenticate/Knock on a failed handshake.
// It is intentionally opaque to anything but the two parties of the
// handshake itself: callers above this package should surface it as
// qerrors.NewAuth(), never with its message attached.
type AuthError struct{ reason string }

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %s", e.reason) }

// LoadSecret reads the shared secret from path, enforcing the same
// contract as Keychain.password: the file must be unreadable by group
// or other (mode bits outside 0700 all clear) and at least 256 bytes
// long.
func LoadSecret(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("wire: stat secret file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("wire: secret file %s must not be readable by group or other (mode %o)", path, info.Mode().Perm())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wire: reading secret file: %w", err)
	}
	secret := []byte(strings.TrimSpace(string(raw)))
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("wire: secret file %s is shorter than %d bytes", path, minSecretLen)
	}
	return secret, nil
}

func safeDigest(nonce, secret []byte) []byte {
	sum := sha512.Sum512(append(append([]byte{}, nonce...), secret...))
	return []byte(hex.EncodeToString(sum[:]))
}

// Authenticate runs the worker side of the handshake: it rejects
// non-loopback connections that don't match masterAddr, generates and
// sends a nonce, then checks the master's reply against the locally
// computed digest. masterAddr is the host portion of the master's
// configured address; an empty masterAddr only permits loopback.
// peerAddr is the connection's remote address (conn.RemoteAddr()).
func Authenticate(r *bufio.Reader, w *bufio.Writer, peerAddr net.Addr, masterAddr string, secret []byte) error {
	if err := checkPeerAllowed(peerAddr, masterAddr); err != nil {
		return sendAuthFailure(w, err)
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("wire: generating nonce: %w", err)
	}
	nonceHex := []byte(hex.EncodeToString(nonce))

	if _, err := w.Write(append(append([]byte{}, nonceHex...), '\n')); err != nil {
		return fmt.Errorf("wire: sending nonce: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("wire: reading auth response: %w", err)
	}
	reply := strings.TrimSpace(line)
	want := string(safeDigest(nonceHex, secret))
	if subtle.ConstantTimeCompare([]byte(reply), []byte(want)) != 1 {
		return sendAuthFailure(w, &AuthError{reason: "invalid credentials"})
	}

	if _, err := w.Write([]byte("ok\n")); err != nil {
		return err
	}
	return w.Flush()
}

func sendAuthFailure(w *bufio.Writer, cause error) error {
	_, _ = w.Write([]byte(fmt.Sprintf("ng: %s\n", cause)))
	_ = w.Flush()
	return cause
}

// checkPeerAllowed rejects a non-loopback connection whose remote
// address doesn't match masterAddr. Non-TCP connections (Unix-domain
// sockets, net.Pipe) are always allowed.
func checkPeerAllowed(peerAddr net.Addr, masterAddr string) error {
	tcpAddr, ok := peerAddr.(*net.TCPAddr)
	if !ok {
		return nil
	}
	if tcpAddr.IP.IsLoopback() {
		return nil
	}
	if masterAddr != "" && tcpAddr.IP.String() == masterAddr {
		return nil
	}
	return &AuthError{reason: fmt.Sprintf("connection from %s is not allowed", tcpAddr)}
}

// Knock runs the master side of the handshake: it reads the worker's
// nonce, replies with the digest, then checks for "ok\n".
func Knock(r *bufio.Reader, w *bufio.Writer, secret []byte) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("wire: reading nonce: %w", err)
	}
	nonce := []byte(strings.TrimSpace(line))

	digest := safeDigest(nonce, secret)
	if _, err := w.Write(append(append([]byte{}, digest...), '\n')); err != nil {
		return fmt.Errorf("wire: sending digest: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	authLine, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("wire: reading auth result: %w", err)
	}
	if strings.HasPrefix(authLine, "ng:") {
		return &AuthError{reason: strings.TrimSpace(strings.SplitN(authLine, ":", 2)[1])}
	}
	if authLine != "ok\n" {
		return fmt.Errorf("wire: unexpected auth response %q", authLine)
	}
	return nil
}
