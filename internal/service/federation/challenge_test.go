package federation

import (
	"context"
	"testing"

	"voidnode/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeRoundTripPromotesVerified(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	ctx := context.Background()

	registerPeer(t, svc, peer, "http://peer:9090")

	challenge, err := svc.CreateChallenge(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, challenge)

	// The peer signs the nonce with its own key.
	response := peer.SignBytes([]byte(challenge))

	verified, err := svc.CompleteChallenge(ctx, peer.ServerID, challenge, response)
	require.NoError(t, err)
	assert.True(t, verified)

	got, err := svc.GetPeer(ctx, peer.ServerID)
	require.NoError(t, err)
	assert.Equal(t, model.TrustVerified, got.TrustLevel)
}

func TestChallengeRejectsForgedResponse(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	imposter := newTestIdentity(t)
	ctx := context.Background()

	registerPeer(t, svc, peer, "http://peer:9090")

	challenge, err := svc.CreateChallenge(ctx)
	require.NoError(t, err)

	verified, err := svc.CompleteChallenge(ctx, peer.ServerID, challenge, imposter.SignBytes([]byte(challenge)))
	require.NoError(t, err)
	assert.False(t, verified)

	got, err := svc.GetPeer(ctx, peer.ServerID)
	require.NoError(t, err)
	assert.Equal(t, model.TrustUnknown, got.TrustLevel)
}

func TestChallengeRejectsMutatedResponse(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	ctx := context.Background()

	registerPeer(t, svc, peer, "http://peer:9090")

	challenge, err := svc.CreateChallenge(ctx)
	require.NoError(t, err)

	response := peer.SignBytes([]byte(challenge))
	response[0] ^= 0xff

	verified, err := svc.CompleteChallenge(ctx, peer.ServerID, challenge, response)
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestChallengeIsSingleUse(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	ctx := context.Background()

	registerPeer(t, svc, peer, "http://peer:9090")

	challenge, err := svc.CreateChallenge(ctx)
	require.NoError(t, err)
	response := peer.SignBytes([]byte(challenge))

	_, err = svc.CompleteChallenge(ctx, peer.ServerID, challenge, response)
	require.NoError(t, err)

	// Replaying the same nonce fails closed.
	_, err = svc.CompleteChallenge(ctx, peer.ServerID, challenge, response)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestCompleteChallengeUnknownNonce(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	registerPeer(t, svc, peer, "http://peer:9090")

	_, err := svc.CompleteChallenge(context.Background(), peer.ServerID, "never-issued", nil)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestCompleteChallengeUnknownPeer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	challenge, err := svc.CreateChallenge(ctx)
	require.NoError(t, err)

	_, err = svc.CompleteChallenge(ctx, "void-ffffffff", challenge, nil)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestVerifyPeerRefusesBlocked(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	ctx := context.Background()

	registerPeer(t, svc, peer, "http://peer:9090")
	require.NoError(t, svc.BlockPeer(ctx, peer.ServerID))

	_, err := svc.VerifyPeer(ctx, peer.ServerID)
	assert.ErrorIs(t, err, ErrPeerBlocked)
}

func TestVerificationNeverDowngradesTrusted(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newTestIdentity(t)
	ctx := context.Background()

	registerPeer(t, svc, peer, "http://peer:9090")
	require.NoError(t, svc.SetTrustLevel(ctx, peer.ServerID, model.TrustTrusted))

	challenge, err := svc.CreateChallenge(ctx)
	require.NoError(t, err)
	verified, err := svc.CompleteChallenge(ctx, peer.ServerID, challenge, peer.SignBytes([]byte(challenge)))
	require.NoError(t, err)
	assert.True(t, verified)

	got, err := svc.GetPeer(ctx, peer.ServerID)
	require.NoError(t, err)
	assert.Equal(t, model.TrustTrusted, got.TrustLevel)
}

func TestAnswerChallengeSignsNonce(t *testing.T) {
	svc, _ := newTestService(t)

	response, err := svc.AnswerChallenge("some-nonce")
	require.NoError(t, err)
	assert.True(t, svc.VerifyChallenge("some-nonce", response, svc.Identity().PublicKey))

	_, err = svc.AnswerChallenge("")
	assert.Error(t, err)
}
