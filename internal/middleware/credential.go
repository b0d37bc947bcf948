package middleware

import (
	"context"
	"net/http"
	"strings"

	"event-ticketing-checkout/internal/models"
)

const credentialKey contextKey = "credential"

// CredentialCookie is the cookie the auth system stores its token in
const CredentialCookie = "access_token"

// CredentialMiddleware extracts the buyer's bearer credential from the
// Authorization header, or the auth cookie, and stores it in the context.
// Requests without one pass through; the checkout decides when it is needed.
func CredentialMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cred models.Credential

		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			cred = models.Credential(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
		} else if c, err := r.Cookie(CredentialCookie); err == nil {
			cred = models.Credential(strings.TrimSpace(c.Value))
		}

		if cred.IsZero() {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetCredential(r.Context(), cred)))
	})
}

// SetCredential stores a credential in ctx
func SetCredential(ctx context.Context, cred models.Credential) context.Context {
	return context.WithValue(ctx, credentialKey, cred)
}

// GetCredential returns the credential stored in ctx, or the zero credential
func GetCredential(ctx context.Context) models.Credential {
	cred, _ := ctx.Value(credentialKey).(models.Credential)
	return cred
}
