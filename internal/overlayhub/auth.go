package overlayhub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/metrics"
)

var (
	errMissingToken = errors.New("missing_token")
	errInvalidToken = errors.New("invalid_token")
)

// authenticate implements the §4.8 handshake: the token comes from the
// "token" query param (browsers can't set headers on the WebSocket
// upgrade), falling back to an "Authorization: Bearer" header, and is
// hashed and looked up by tokenHash.
func (h *Hub) authenticate(ctx context.Context, r *http.Request) (domain.OverlayClient, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		} else {
			token = ""
		}
	}
	if token == "" {
		metrics.OverlayAuthFailuresTotal.Inc()
		return domain.OverlayClient{}, errMissingToken
	}

	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	c, err := h.store.GetOverlayClientByTokenHash(ctx, hash)
	if err != nil || c.Revoked() {
		metrics.OverlayAuthFailuresTotal.Inc()
		return domain.OverlayClient{}, errInvalidToken
	}
	return c, nil
}
