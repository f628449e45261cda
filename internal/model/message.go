package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageKind string

const (
	KindMemoryQuery     MessageKind = "memory_query"
	KindMemoryShare     MessageKind = "memory_share"
	KindCapabilityCheck MessageKind = "capability_check"
	KindPing            MessageKind = "ping"
)

type (
	// FederationMessage is the decrypted payload of a secure message. Each
	// kind is its own type; handlers switch exhaustively on the concrete type
	// rather than comparing strings.
	FederationMessage interface {
		Kind() MessageKind
	}

	MemoryQuery struct {
		Filters MemoryFilters `json:"filters"`
	}

	MemoryShare struct {
		Records []MemoryRecord `json:"records"`
	}

	CapabilityCheck struct {
		Capability string `json:"capability"`
	}

	Ping struct {
		SentAt time.Time `json:"sent_at"`
	}

	// SecureEnvelope is the wire form of a secure message: ciphertext plus a
	// signature over the ciphertext by the sender's signing key.
	SecureEnvelope struct {
		FromServerID string `json:"from_server_id"`
		Nonce        []byte `json:"nonce"`
		Ciphertext   []byte `json:"ciphertext"`
		Signature    []byte `json:"signature"`
	}

	messageFrame struct {
		Type    MessageKind     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
)

func (MemoryQuery) Kind() MessageKind     { return KindMemoryQuery }
func (MemoryShare) Kind() MessageKind     { return KindMemoryShare }
func (CapabilityCheck) Kind() MessageKind { return KindCapabilityCheck }
func (Ping) Kind() MessageKind            { return KindPing }

func EncodeMessage(m FederationMessage) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageFrame{Type: m.Kind(), Payload: payload})
}

func DecodeMessage(data []byte) (FederationMessage, error) {
	var frame messageFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode message frame: %w", err)
	}

	var (
		msg FederationMessage
		err error
	)
	switch frame.Type {
	case KindMemoryQuery:
		var m MemoryQuery
		err = json.Unmarshal(frame.Payload, &m)
		msg = m
	case KindMemoryShare:
		var m MemoryShare
		err = json.Unmarshal(frame.Payload, &m)
		msg = m
	case KindCapabilityCheck:
		var m CapabilityCheck
		err = json.Unmarshal(frame.Payload, &m)
		msg = m
	case KindPing:
		var m Ping
		err = json.Unmarshal(frame.Payload, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown message type %q", frame.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", frame.Type, err)
	}
	return msg, nil
}
