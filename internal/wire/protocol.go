// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Control messages exchanged over a master-worker connection once the
// auth handshake (auth.go) succeeds. These are always plain JSON
// frames (Frame in frame.go), never the mixed envelope — only the
// compiled job request and result/array payloads go through
// WriteEnvelope/ReadEnvelope.

package wire

import (
	"bufio"
	"encoding/json"
	"fmt"

	"quickdb/internal/planir"
)

// MessageType discriminates the JSON control envelope below.
type MessageType string

const (
	MsgStart     MessageType = "start"
	MsgProgress  MessageType = "progress"
	MsgResult    MessageType = "result"
	MsgUserError MessageType = "user_error"
	MsgSysError  MessageType = "sys_error"
	MsgInterrupt MessageType = "interrupt"
	MsgProxy     MessageType = "proxy"
)

// Progress is the running {done, total} chunk count a worker reports
// while a job is in flight (spec §4.6/§4.7).
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Message is the JSON control envelope. At most one payload field is
// populated, selected by Type, except MsgSysError, which carries Worker
// alongside Reason. MsgResult carries no payload field of
// its own: it only announces that a mixed envelope (WriteEnvelope)
// carrying the result rows/arrays immediately follows on the same
// connection, per the discriminated-union split in spec §4.8.
type Message struct {
	Type     MessageType         `json:"type"`
	Job      *planir.CompiledJob `json:"job,omitempty"`
	Progress *Progress           `json:"progress,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Worker   string              `json:"worker,omitempty"`
}

// WriteMessage marshals msg as JSON and writes it as a single Frame.
func WriteMessage(w *bufio.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshaling control message: %w", err)
	}
	if err := WriteFrame(w, body, false); err != nil {
		return err
	}
	return w.Flush()
}

// ReadMessage reads one Frame and unmarshals it as a control message.
func ReadMessage(r *bufio.Reader) (Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("wire: unmarshaling control message: %w", err)
	}
	return msg, nil
}

// StartMessage wraps a CompiledJob as the request a master sends to
// kick off work on a worker connection.
func StartMessage(job *planir.CompiledJob) Message {
	return Message{Type: MsgStart, Job: job}
}

// ProgressMessage wraps a Progress report.
func ProgressMessage(done, total int) Message {
	return Message{Type: MsgProgress, Progress: &Progress{Done: done, Total: total}}
}

// InterruptMessage is sent by the master on every live worker
// connection to request cancellation (spec §4.7/§5).
func InterruptMessage() Message {
	return Message{Type: MsgInterrupt}
}

// UserErrorMessage reports a UserError/SqlError surfaced verbatim.
func UserErrorMessage(reason string) Message {
	return Message{Type: MsgUserError, Reason: reason}
}

// SysErrorMessage reports an unexpected worker-side failure, labelled
// with the worker host per spec §4.7's partial-failure contract.
func SysErrorMessage(worker, reason string) Message {
	return Message{Type: MsgSysError, Worker: worker, Reason: reason}
}
