package federation

import "errors"

var (
	// ErrUnknownPeer aborts an operation against a peer that was never
	// registered; no side effects.
	ErrUnknownPeer = errors.New("federation: unknown peer")

	// ErrBadSignature rejects a payload whose signature does not verify
	// against the claimed sender's known key.
	ErrBadSignature = errors.New("federation: signature verification failed")

	// ErrPeerUnreachable is a network or timeout failure. Recorded as a
	// health-check failure and retried on the normal schedule, never a crash.
	ErrPeerUnreachable = errors.New("federation: peer unreachable")

	// ErrChallengeExpired means the challenge nonce was never issued or has
	// already been consumed.
	ErrChallengeExpired = errors.New("federation: challenge expired or unknown")

	// ErrPeerBlocked rejects interaction with an administratively blocked peer.
	ErrPeerBlocked = errors.New("federation: peer is blocked")
)
