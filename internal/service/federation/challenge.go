package federation

import (
	"context"
	"fmt"

	"voidnode/internal/identity"
	"voidnode/internal/model"
	redisSvc "voidnode/internal/service/redis"
	"voidnode/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const challengeKeyPrefix = "challenge:"

// CreateChallenge issues a fresh nonce. It carries no state beyond being
// signable; we remember it briefly so a completion can only consume a nonce
// we actually issued, once.
func (s *Service) CreateChallenge(ctx context.Context) (string, error) {
	challenge := uuid.NewString()
	if err := s.cache.Set(ctx, challengeKeyPrefix+challenge, "1", s.opts.ChallengeTTL); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// AnswerChallenge signs a challenge another server issued to us.
func (s *Service) AnswerChallenge(challenge string) ([]byte, error) {
	if challenge == "" {
		return nil, fmt.Errorf("empty challenge")
	}
	return s.id.SignBytes([]byte(challenge)), nil
}

// VerifyChallenge checks a signed response against the claimed public key.
// Pure; callers that need single-use semantics consume the nonce first.
func (s *Service) VerifyChallenge(challenge string, response, claimedPublicKey []byte) bool {
	return identity.VerifyBytes([]byte(challenge), response, claimedPublicKey)
}

// ConsumeChallenge invalidates an issued nonce, reporting whether it was
// live. Completions on unknown or expired nonces fail closed.
func (s *Service) ConsumeChallenge(ctx context.Context, challenge string) (bool, error) {
	_, err := s.cache.GetDel(ctx, challengeKeyPrefix+challenge)
	if redisSvc.IsNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteChallenge consumes the nonce and, when the peer's signed response
// verifies, promotes it to verified.
func (s *Service) CompleteChallenge(ctx context.Context, serverID, challenge string, response []byte) (bool, error) {
	live, err := s.ConsumeChallenge(ctx, challenge)
	if err != nil {
		return false, err
	}
	if !live {
		return false, ErrChallengeExpired
	}

	p, err := s.GetPeer(ctx, serverID)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, ErrUnknownPeer
	}
	if !s.VerifyChallenge(challenge, response, p.PublicKey) {
		return false, nil
	}
	return true, s.promoteVerified(ctx, p)
}

// VerifyPeer runs the full one-directional round trip: issue a challenge,
// have the peer sign it, validate, promote. Mutual trust needs the peer to
// run the same flow against us.
func (s *Service) VerifyPeer(ctx context.Context, serverID string) (bool, error) {
	p, err := s.GetPeer(ctx, serverID)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, ErrUnknownPeer
	}
	if p.TrustLevel == model.TrustBlocked {
		return false, ErrPeerBlocked
	}

	challenge, err := s.CreateChallenge(ctx)
	if err != nil {
		return false, err
	}

	answer, err := s.transport.RequestChallengeAnswer(ctx, p.Endpoint, challenge)
	if err != nil {
		s.RecordContact(ctx, serverID, false)
		return false, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	if _, err := s.ConsumeChallenge(ctx, challenge); err != nil {
		return false, err
	}

	if answer.ServerID != serverID {
		log.Warn("challenge answered by wrong server",
			zap.String("expected", serverID), zap.String("got", answer.ServerID))
		return false, nil
	}
	if !s.VerifyChallenge(challenge, answer.Response, p.PublicKey) {
		s.RecordContact(ctx, serverID, false)
		return false, nil
	}

	s.RecordContact(ctx, serverID, true)
	return true, s.promoteVerified(ctx, p)
}

func (s *Service) promoteVerified(ctx context.Context, p *model.PeerRecord) error {
	// Admin standing is never downgraded by a routine verification.
	if p.TrustLevel == model.TrustTrusted || p.TrustLevel == model.TrustBlocked {
		return nil
	}
	if err := s.applyTrust(ctx, p.ServerID, model.TrustVerified); err != nil {
		return err
	}
	s.events.Publish(Event{Type: EventPeerVerified, ServerID: p.ServerID})
	return nil
}
