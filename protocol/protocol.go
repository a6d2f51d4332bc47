package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Wire sequences. Every message starts with a 3-letter command code and
// ends with the terminator. Payload messages carry an opaque blob after
// the split sequence.
const (
	Separator = " "
	SplitSeq  = "||"
	TermSeq   = ".."
)

// Command codes.
const (
	CmdLogin        = "USR" // login - [client >> server]
	CmdLogout       = "OUT" // logout - [client >> server]
	CmdAddContact   = "ADD" // add user to contact list - [client >> server]
	CmdFriends      = "FRD" // get friends with statuses - [client >> server]
	CmdChangeStatus = "CHG" // presence change - [client >> server][server >> client]
	CmdAck          = "ACK" // acknowledgement - [client >> server][server >> client]
	CmdAddChatUser  = "ACP" // add chat participant - [client >> server]
	CmdGetChats     = "GCH" // list chats - [client >> server]

	CmdMessage     = "MSG" // direct message with payload
	CmdInfo        = "INF" // informational payload - [server >> client]
	CmdChatMessage = "CMS" // chat message with payload
	CmdCreateChat  = "CCH" // create chat, name in payload - [client >> server]

	CmdError = "ERR"

	CmdService = "SRV" // server introspection
)

// Kind discriminates the four wire message shapes.
type Kind int

const (
	KindNormal Kind = iota
	KindPayload
	KindError
	KindService
)

var commandKinds = map[string]Kind{
	CmdLogin:        KindNormal,
	CmdLogout:       KindNormal,
	CmdAddContact:   KindNormal,
	CmdFriends:      KindNormal,
	CmdChangeStatus: KindNormal,
	CmdAck:          KindNormal,
	CmdAddChatUser:  KindNormal,
	CmdGetChats:     KindNormal,
	CmdMessage:      KindPayload,
	CmdInfo:         KindPayload,
	CmdChatMessage:  KindPayload,
	CmdCreateChat:   KindPayload,
	CmdError:        KindError,
	CmdService:      KindService,
}

var (
	// ErrUnknownCommand reports a command code outside the table.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrParse reports a recognized command whose frame does not match
	// its kind's shape.
	ErrParse = errors.New("parse error")
)

// Message is one decoded wire message.
type Message interface {
	Command() string
	// Bytes renders the wire form, terminator included.
	Bytes() []byte
}

// NormalMessage: CMD PARAM_1 PARAM_2 ... PARAM_N..
type NormalMessage struct {
	Cmd    string
	Params []string
}

func (m NormalMessage) Command() string { return m.Cmd }

func (m NormalMessage) Bytes() []byte {
	fields := append([]string{m.Cmd}, m.Params...)
	return []byte(strings.Join(fields, Separator) + TermSeq + "\n")
}

// PayloadMessage: CMD PARAM_1 ... PARAM_N PAYLOAD_SIZE||PAYLOAD..
type PayloadMessage struct {
	Cmd     string
	Params  []string
	Payload []byte
}

func (m PayloadMessage) Command() string { return m.Cmd }

func (m PayloadMessage) Bytes() []byte {
	fields := append([]string{m.Cmd}, m.Params...)
	fields = append(fields, strconv.Itoa(len(m.Payload)))
	service := strings.Join(fields, Separator)
	return []byte(service + SplitSeq + string(m.Payload) + TermSeq + "\n")
}

// ErrorMessage: ERR CODE..
type ErrorMessage struct {
	Code string
}

func (m ErrorMessage) Command() string { return CmdError }

func (m ErrorMessage) Bytes() []byte {
	return []byte(CmdError + Separator + m.Code + TermSeq)
}

// ServiceMessage: CMD..
type ServiceMessage struct {
	Cmd string
}

func (m ServiceMessage) Command() string { return m.Cmd }

func (m ServiceMessage) Bytes() []byte {
	return []byte(m.Cmd + TermSeq)
}

// Parse decodes one raw frame (terminator already stripped) into a
// Message. The transaction id slot of the legacy wire form is not
// carried on the wire and is always normalized away.
func Parse(raw []byte) (Message, error) {
	text := strings.TrimSpace(string(raw))
	if len(text) < 3 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
	}
	cmd := text[:3]
	kind, ok := commandKinds[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	switch kind {
	case KindNormal:
		return parseNormal(text), nil
	case KindPayload:
		return parsePayload(text)
	case KindError:
		return parseError(text), nil
	default:
		return ServiceMessage{Cmd: cmd}, nil
	}
}

func parseNormal(text string) NormalMessage {
	fields := strings.Split(text, Separator)
	return NormalMessage{Cmd: fields[0], Params: fields[1:]}
}

func parsePayload(text string) (Message, error) {
	parts := strings.SplitN(text, SplitSeq, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: payload message without split sequence: %q", ErrParse, text)
	}
	// Single-space split, empties kept: the size slot before the split
	// sequence may be empty when a sender omits the size entirely.
	service := strings.Split(parts[0], Separator)
	payload := []byte(parts[1])
	if len(service) < 2 {
		return nil, fmt.Errorf("%w: payload message without declared size: %q", ErrParse, text)
	}
	sizeField := service[len(service)-1]
	if sizeField != "" {
		declared, err := strconv.Atoi(sizeField)
		if err != nil {
			return nil, fmt.Errorf("%w: bad payload size %q", ErrParse, sizeField)
		}
		// Tolerated for legacy senders that declare a wrong size; the
		// frame boundary comes from the terminator, not from this field.
		if declared != len(payload) {
			slog.Warn("payload size mismatch",
				"cmd", service[0], "declared", declared, "actual", len(payload))
		}
	}
	return PayloadMessage{
		Cmd:     service[0],
		Params:  service[1 : len(service)-1],
		Payload: payload,
	}, nil
}

func parseError(text string) ErrorMessage {
	fields := strings.Fields(text)
	code := ""
	if len(fields) > 1 {
		code = fields[1]
	}
	return ErrorMessage{Code: code}
}
