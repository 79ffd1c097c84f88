// Package handshake implements the mutual HMAC-SHA256 challenge/response
// exchange that precedes the steady-state protocol loop (spec.md §4.2):
//
//	agent -> Authenticate{service_id}
//	server -> Challenge{agent_nonce}
//	agent -> ChallengeResponse{response, server_nonce}
//	server -> AuthenticationSuccess{response}
//	agent -> HandshakeComplete
//
// Both sides authenticate the other by proving knowledge of a shared token
// without ever sending it: each nonce is HMAC'd under the token and the
// peer verifies the digest matches what it computes locally.
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/helios-home/control-plane/internal/protocol"
)

// Nonce is a 32-byte random challenge value.
type Nonce [32]byte

func randomNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

// resolveChallenge computes the HMAC-SHA256 digest of nonce keyed by token,
// hex-encoded. Both peers compute this independently and compare results;
// the token itself never crosses the wire.
func resolveChallenge(nonce Nonce, token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(nonce[:])
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate is the agent's opening message, carrying its claimed identity.
type Authenticate struct {
	ServiceID uuid.UUID `json:"service_id"`
}

// Challenge is the server's response to Authenticate.
type Challenge struct {
	AgentNonce Nonce `json:"agent_nonce"`
}

// ChallengeResponse answers the server's Challenge and poses one in return.
type ChallengeResponse struct {
	Response    string `json:"response"`
	ServerNonce Nonce  `json:"server_nonce"`
}

// AuthenticationSuccess answers the agent's half of ChallengeResponse.
type AuthenticationSuccess struct {
	Response string `json:"response"`
}

// Stream is the minimal duplex transport the handshake needs: send one
// frame, receive the next. The server and agent connection loops wrap their
// underlying websocket.Conn with this interface before handing control to
// the handshake so that handshake logic never touches the transport layer
// directly and can be exercised with an in-memory fake in tests.
type Stream interface {
	Send(protocol.Message) error
	Recv() (protocol.Message, error)
}

// recvExpected reads frames off stream until one carries id, the current
// handshake step's correlation id. A frame with a different id is out of
// band (spec.md §4.2) rather than a protocol violation: it's answered with
// Err{UnexpectedOutOfBandMessage} and discarded, and recvExpected keeps
// waiting for the frame the handshake actually needs.
func recvExpected(stream Stream, id uuid.UUID) (protocol.Message, error) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return protocol.Message{}, err
		}
		if msg.ID != id {
			_ = stream.Send(protocol.RespondErr(msg.ID, protocol.CommandUnexpectedOutOfBandMessage))
			continue
		}
		return msg, nil
	}
}

// Accept performs the server side of the handshake. message is the first
// frame already read off the stream by the caller (the server's connection
// loop has to peek at it to route the new connection to this function in
// the first place). token is the secret shared with the agent identified by
// the Authenticate payload's service_id; the caller resolves it from the
// services repository before calling Accept.
//
// Accept returns the authenticated service id on success. Any returned
// error means the connection must be closed; Accept has already tried to
// notify the peer with an error-status message where the protocol defines
// one.
func Accept(stream Stream, message protocol.Message, token string) (uuid.UUID, error) {
	id := message.ID

	if !message.IsOk(protocol.CommandAuthenticate) {
		_ = stream.Send(protocol.RespondErr(id, protocol.CommandInvalidMessage))
		return uuid.UUID{}, fmt.Errorf("%w: expected Authenticate, got %s/%s", protocol.ErrHandshakeFailed, message.Status, message.Command)
	}
	var auth Authenticate
	if err := message.Decode(&auth); err != nil {
		_ = stream.Send(protocol.RespondErr(id, protocol.CommandInvalidMessage))
		return uuid.UUID{}, fmt.Errorf("%w: %v", protocol.ErrHandshakeFailed, err)
	}

	agentNonce, err := randomNonce()
	if err != nil {
		return uuid.UUID{}, err
	}
	agentChallengeResponse := resolveChallenge(agentNonce, token)

	challengeMsg, err := protocol.RespondOk(id, protocol.CommandChallenge, Challenge{AgentNonce: agentNonce})
	if err != nil {
		return uuid.UUID{}, err
	}
	if err := stream.Send(challengeMsg); err != nil {
		return uuid.UUID{}, err
	}

	reply, err := recvExpected(stream, id)
	if err != nil {
		return uuid.UUID{}, err
	}
	if !reply.IsOk(protocol.CommandChallengeResponse) {
		_ = stream.Send(protocol.RespondErr(id, protocol.CommandInvalidMessage))
		return uuid.UUID{}, fmt.Errorf("%w: expected ChallengeResponse, got %s/%s", protocol.ErrHandshakeFailed, reply.Status, reply.Command)
	}
	var challengeResp ChallengeResponse
	if err := reply.Decode(&challengeResp); err != nil {
		_ = stream.Send(protocol.RespondErr(id, protocol.CommandInvalidMessage))
		return uuid.UUID{}, fmt.Errorf("%w: %v", protocol.ErrHandshakeFailed, err)
	}
	if challengeResp.Response != agentChallengeResponse {
		_ = stream.Send(protocol.RespondErr(id, protocol.CommandAuthenticationFailed))
		return uuid.UUID{}, fmt.Errorf("%w: agent response mismatch", protocol.ErrHandshakeFailed)
	}

	serverChallengeResponse := resolveChallenge(challengeResp.ServerNonce, token)
	successMsg, err := protocol.RespondOk(id, protocol.CommandAuthenticationSuccess, AuthenticationSuccess{Response: serverChallengeResponse})
	if err != nil {
		return uuid.UUID{}, err
	}
	if err := stream.Send(successMsg); err != nil {
		return uuid.UUID{}, err
	}

	final, err := recvExpected(stream, id)
	if err != nil {
		return uuid.UUID{}, err
	}
	switch {
	case final.IsOk(protocol.CommandHandshakeComplete):
		return auth.ServiceID, nil
	case final.IsErr(protocol.CommandAuthenticationFailed):
		return uuid.UUID{}, fmt.Errorf("%w: agent reported authentication failure", protocol.ErrHandshakeFailed)
	default:
		return uuid.UUID{}, fmt.Errorf("%w: expected HandshakeComplete, got %s/%s", protocol.ErrUnexpectedMessage, final.Status, final.Command)
	}
}

// Initiate performs the agent side of the handshake against stream, proving
// serviceID's identity using token.
func Initiate(stream Stream, serviceID uuid.UUID, token string) error {
	authMsg, err := protocol.Ok(protocol.CommandAuthenticate, Authenticate{ServiceID: serviceID})
	if err != nil {
		return err
	}
	id := authMsg.ID
	if err := stream.Send(authMsg); err != nil {
		return err
	}

	challengeReply, err := recvExpected(stream, id)
	if err != nil {
		return err
	}
	if challengeReply.IsErr(protocol.CommandAgentNotFound) {
		return fmt.Errorf("%w: agent not recognized by server", protocol.ErrHandshakeFailed)
	}
	if !challengeReply.IsOk(protocol.CommandChallenge) {
		return fmt.Errorf("%w: expected Challenge, got %s/%s", protocol.ErrUnexpectedMessage, challengeReply.Status, challengeReply.Command)
	}
	var challenge Challenge
	if err := challengeReply.Decode(&challenge); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrHandshakeFailed, err)
	}

	agentChallengeResponse := resolveChallenge(challenge.AgentNonce, token)

	serverNonce, err := randomNonce()
	if err != nil {
		return err
	}
	serverChallengeResponse := resolveChallenge(serverNonce, token)

	respMsg, err := protocol.RespondOk(id, protocol.CommandChallengeResponse, ChallengeResponse{
		Response:    agentChallengeResponse,
		ServerNonce: serverNonce,
	})
	if err != nil {
		return err
	}
	if err := stream.Send(respMsg); err != nil {
		return err
	}

	successReply, err := recvExpected(stream, id)
	if err != nil {
		return err
	}
	switch {
	case successReply.IsOk(protocol.CommandAuthenticationSuccess):
		var success AuthenticationSuccess
		if err := successReply.Decode(&success); err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrHandshakeFailed, err)
		}
		if success.Response != serverChallengeResponse {
			_ = stream.Send(protocol.RespondErr(id, protocol.CommandAuthenticationFailed))
			return fmt.Errorf("%w: server challenge response mismatch", protocol.ErrHandshakeFailed)
		}
	case successReply.IsErr(protocol.CommandAuthenticationFailed):
		return fmt.Errorf("%w: server reported authentication failure", protocol.ErrHandshakeFailed)
	default:
		return fmt.Errorf("%w: expected AuthenticationSuccess, got %s/%s", protocol.ErrUnexpectedMessage, successReply.Status, successReply.Command)
	}

	completeMsg, err := protocol.RespondOk(id, protocol.CommandHandshakeComplete, nil)
	if err != nil {
		return err
	}
	return stream.Send(completeMsg)
}
