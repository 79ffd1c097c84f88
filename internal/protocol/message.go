// Package protocol defines the wire format shared between the control-plane
// server and remote agents: a JSON envelope with a namespace/status/command
// tag stack and a correlation id, plus the core command set used by the
// handshake and the steady-state loop.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Namespace identifies which command set a message's payload belongs to.
// Only "core" exists today; the envelope shape permits more without any
// codec change.
type Namespace string

const NamespaceCore Namespace = "core"

// Status discriminates a success-variant command (OkCommand) from an
// error-variant command (ErrCommand).
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// OkCommand enumerates the command set carried by status "ok" messages.
type OkCommand string

const (
	CommandAuthenticate         OkCommand = "Authenticate"
	CommandChallenge            OkCommand = "Challenge"
	CommandChallengeResponse    OkCommand = "ChallengeResponse"
	CommandAuthenticationSuccess OkCommand = "AuthenticationSuccess"
	CommandHandshakeComplete    OkCommand = "HandshakeComplete"
	CommandPing                 OkCommand = "Ping"
	CommandPong                 OkCommand = "Pong"
)

// ErrCommand enumerates the command set carried by status "error" messages.
type ErrCommand string

const (
	CommandAgentNotFound             ErrCommand = "AgentNotFound"
	CommandAuthenticationFailed      ErrCommand = "AuthenticationFailed"
	CommandUnexpectedOutOfBandMessage ErrCommand = "UnexpectedOutOfBandMessage"
	CommandInternalError              ErrCommand = "InternalError"
	CommandInvalidMessage             ErrCommand = "InvalidMessage"
	CommandAlreadyConnected           ErrCommand = "AlreadyConnected"
)

// Message is the single envelope shape exchanged over the wire:
//
//	{"id": "...", "namespace": "core", "status": "ok"|"error", "command": "...", "payload": {...}}
//
// Payload is left undecoded (json.RawMessage) until the caller knows which
// command it is dealing with, mirroring the three-level tag discriminator
// the original implementation hand-rolled in its (de)serializer.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	Namespace Namespace       `json:"namespace"`
	Status    Status          `json:"status"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewID returns a fresh time-ordered correlation id, used both for message
// ids and for service ids (§3 recommends a time-ordered UUID for insertion
// locality).
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the runtime's random source is broken, which
		// is unrecoverable; fall back to NewRandom rather than propagating
		// an error signature through every message constructor.
		return uuid.New()
	}
	return id
}

// Ok builds a fresh Ok-status message carrying the given command and payload.
func Ok(command OkCommand, payload any) (Message, error) {
	return okWithID(NewID(), command, payload)
}

// RespondOk builds an Ok-status message that echoes an existing correlation id.
func RespondOk(id uuid.UUID, command OkCommand, payload any) (Message, error) {
	return okWithID(id, command, payload)
}

func okWithID(id uuid.UUID, command OkCommand, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Namespace: NamespaceCore, Status: StatusOK, Command: string(command), Payload: raw}, nil
}

// Err builds a fresh Err-status message carrying the given command.
func Err(command ErrCommand) Message {
	m, _ := errWithID(NewID(), command)
	return m
}

// RespondErr builds an Err-status message that echoes an existing correlation id.
func RespondErr(id uuid.UUID, command ErrCommand) Message {
	m, _ := errWithID(id, command)
	return m
}

func errWithID(id uuid.UUID, command ErrCommand) (Message, error) {
	return Message{ID: id, Namespace: NamespaceCore, Status: StatusError, Command: string(command)}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

// Decode parses the payload into target. Callers must check Command first.
func (m Message) Decode(target any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("decode payload for command %s: empty payload", m.Command)
	}
	if err := json.Unmarshal(m.Payload, target); err != nil {
		return fmt.Errorf("decode payload for command %s: %w", m.Command, err)
	}
	return nil
}

// IsOk reports whether the message is a success-variant message with the
// given command.
func (m Message) IsOk(command OkCommand) bool {
	return m.Status == StatusOK && m.Command == string(command)
}

// IsErr reports whether the message is an error-variant message with the
// given command.
func (m Message) IsErr(command ErrCommand) bool {
	return m.Status == StatusError && m.Command == string(command)
}

// Encode serializes the message to its wire representation.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a wire frame into a Message, validating the namespace and
// rejecting anything the codec doesn't recognize as a protocol violation.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m.Namespace != NamespaceCore {
		return Message{}, fmt.Errorf("%w: namespace %q", ErrUnknownNamespace, m.Namespace)
	}
	switch m.Status {
	case StatusOK, StatusError:
	default:
		return Message{}, fmt.Errorf("%w: status %q", ErrMalformedFrame, m.Status)
	}
	return m, nil
}
