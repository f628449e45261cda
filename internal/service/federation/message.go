package federation

import (
	"context"
	"fmt"

	"voidnode/internal/identity"
	"voidnode/internal/model"
	"voidnode/internal/utils/log"

	"go.uber.org/zap"
)

// Seal encrypts a message for a registered peer and signs the ciphertext.
func (s *Service) Seal(ctx context.Context, serverID string, msg model.FederationMessage) (*model.SecureEnvelope, error) {
	p, err := s.GetPeer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnknownPeer
	}
	if p.TrustLevel == model.TrustBlocked {
		return nil, ErrPeerBlocked
	}

	plaintext, err := model.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	sealed, err := s.id.Encrypt(plaintext, p.PublicKey)
	if err != nil {
		return nil, err
	}
	return &model.SecureEnvelope{
		FromServerID: s.id.ServerID,
		Nonce:        sealed.Nonce,
		Ciphertext:   sealed.Ciphertext,
		Signature:    s.id.SignBytes(sealed.Ciphertext),
	}, nil
}

// SendSecureMessage encrypts a message for the peer, signs the ciphertext and
// delivers both. The peer must be registered; blocked peers are refused.
func (s *Service) SendSecureMessage(ctx context.Context, serverID string, msg model.FederationMessage) error {
	env, err := s.Seal(ctx, serverID, msg)
	if err != nil {
		return err
	}
	p, err := s.GetPeer(ctx, serverID)
	if err != nil {
		return err
	}

	if err := s.transport.DeliverMessage(ctx, p.Endpoint, env); err != nil {
		s.RecordContact(ctx, serverID, false)
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	s.RecordContact(ctx, serverID, true)
	return nil
}

// HandleMessage authenticates, decrypts and dispatches an inbound envelope.
// The reply (if any) is returned for the transport layer to serialize.
func (s *Service) HandleMessage(ctx context.Context, env *model.SecureEnvelope) (model.FederationMessage, error) {
	p, err := s.GetPeer(ctx, env.FromServerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnknownPeer
	}
	if p.TrustLevel == model.TrustBlocked {
		return nil, ErrPeerBlocked
	}

	if !identity.VerifyBytes(env.Ciphertext, env.Signature, p.PublicKey) {
		s.RecordContact(ctx, env.FromServerID, false)
		return nil, ErrBadSignature
	}

	plaintext, err := s.id.Decrypt(&identity.Envelope{
		Nonce:      env.Nonce,
		Ciphertext: env.Ciphertext,
	}, p.PublicKey)
	if err != nil {
		s.RecordContact(ctx, env.FromServerID, false)
		return nil, err
	}

	msg, err := model.DecodeMessage(plaintext)
	if err != nil {
		return nil, err
	}

	s.RecordContact(ctx, env.FromServerID, true)
	s.events.Publish(Event{
		Type:     EventMessageReceived,
		ServerID: env.FromServerID,
		Detail:   string(msg.Kind()),
	})
	return s.dispatch(ctx, p, msg)
}

// dispatch matches exhaustively on the message union.
func (s *Service) dispatch(ctx context.Context, from *model.PeerRecord, msg model.FederationMessage) (model.FederationMessage, error) {
	switch m := msg.(type) {
	case model.MemoryQuery:
		if s.memories == nil {
			return nil, fmt.Errorf("memory queries not available")
		}
		records, err := s.memories.Find(ctx, m.Filters)
		if err != nil {
			return nil, err
		}
		return model.MemoryShare{Records: records}, nil

	case model.MemoryShare:
		if s.importer == nil {
			return nil, fmt.Errorf("memory import not available")
		}
		imported, skipped, err := s.importer.ImportRecords(ctx, from.ServerID, m.Records)
		if err != nil {
			return nil, err
		}
		log.Info("memory share absorbed",
			zap.String("from", from.ServerID),
			zap.Int("imported", imported), zap.Int("skipped", skipped))
		return nil, nil

	case model.CapabilityCheck:
		for _, c := range s.opts.Capabilities {
			if c == m.Capability {
				return model.CapabilityCheck{Capability: m.Capability}, nil
			}
		}
		return nil, fmt.Errorf("capability %q not supported", m.Capability)

	case model.Ping:
		return model.Ping{SentAt: m.SentAt}, nil

	default:
		return nil, fmt.Errorf("unhandled message kind %q", msg.Kind())
	}
}
