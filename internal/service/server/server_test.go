package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"voidnode/internal/identity"
	"voidnode/internal/service/federation"
	"voidnode/internal/service/gate"
	syncSvc "voidnode/internal/service/sync"

	"github.com/stretchr/testify/assert"
)

func TestWriteErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{federation.ErrUnknownPeer, http.StatusNotFound},
		{federation.ErrBadSignature, http.StatusUnauthorized},
		{identity.ErrDecryptionFailed, http.StatusBadRequest},
		{federation.ErrChallengeExpired, http.StatusBadRequest},
		{federation.ErrPeerBlocked, http.StatusForbidden},
		{federation.ErrPeerUnreachable, http.StatusBadGateway},
		{syncSvc.ErrBadManifest, http.StatusBadRequest},
		{gate.ErrUnknownFeature, http.StatusBadRequest},
		{gate.ErrOracleUnavailable, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		assert.Equal(t, c.status, rec.Code, c.err.Error())
	}

	// Wrapped sentinels map the same as bare ones.
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: dial tcp refused", federation.ErrPeerUnreachable))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("mongo: connection string leaked"))
	assert.Equal(t, "internal error\n", rec.Body.String())
}
