package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// tokenAudience is the aud claim every access token must carry.
const tokenAudience = "quoterelay"

type authDenied struct {
	status  int
	code    string
	message string
}

func (e *authDenied) Error() string {
	return e.message
}

func denied(status int, message string) *authDenied {
	code := "unauthorized"
	if status == 403 {
		code = "forbidden"
	}
	return &authDenied{status: status, code: code, message: message}
}

// accessClaims is the verified identity behind a request: which workspace
// the token is scoped to, which agent minted it, and what it may do.
type accessClaims struct {
	Workspace string
	Agent     string
	Scopes    map[string]struct{}
	ExpiresAt int64
}

func (c accessClaims) allows(scope string) bool {
	_, ok := c.Scopes[scope]
	return ok
}

// checkAccess verifies the bearer token and that it covers the requested
// workspace and scope. An empty workspace or scope skips that check.
func checkAccess(authHeader, secret, workspace, scope string, now time.Time) (accessClaims, *authDenied) {
	claims, authErr := decodeAccessToken(authHeader, secret, now)
	if authErr != nil {
		return accessClaims{}, authErr
	}
	if workspace != "" && claims.Workspace != workspace {
		return accessClaims{}, denied(403, "token is for another workspace")
	}
	if scope != "" && !claims.allows(scope) {
		return accessClaims{}, denied(403, "scope "+scope+" required")
	}
	return claims, nil
}

type tokenPayload struct {
	Workspace string `json:"workspace"`
	Agent     string `json:"agent"`
	Scope     string `json:"scope"`
	Audience  string `json:"aud"`
	ExpiresAt any    `json:"exp"`
}

// decodeAccessToken validates an HS256 token of the form
// header.payload.signature with claims workspace, agent, scope
// (space-separated), aud, and exp.
func decodeAccessToken(authHeader, secret string, now time.Time) (accessClaims, *authDenied) {
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return accessClaims{}, denied(401, "bearer token required")
	}
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return accessClaims{}, denied(401, "malformed token")
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeTokenSegment(parts[0], &header); err != nil {
		return accessClaims{}, denied(401, "malformed token header")
	}
	if header.Alg != "HS256" {
		return accessClaims{}, denied(401, "token algorithm must be HS256")
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return accessClaims{}, denied(401, "malformed token signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0]))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(parts[1]))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return accessClaims{}, denied(401, "token signature check failed")
	}

	var payload tokenPayload
	if err := decodeTokenSegment(parts[1], &payload); err != nil {
		return accessClaims{}, denied(401, "malformed token payload")
	}
	if payload.Workspace == "" {
		return accessClaims{}, denied(401, "token missing workspace claim")
	}
	if payload.Agent == "" {
		return accessClaims{}, denied(401, "token missing agent claim")
	}
	if payload.Audience != tokenAudience {
		return accessClaims{}, denied(401, "token audience mismatch")
	}
	expiresAt, ok := claimUnixTime(payload.ExpiresAt)
	if !ok {
		return accessClaims{}, denied(401, "token missing exp claim")
	}
	if now.Unix() >= expiresAt {
		return accessClaims{}, denied(401, "token expired")
	}

	scopes := map[string]struct{}{}
	for _, scope := range strings.Fields(payload.Scope) {
		scopes[scope] = struct{}{}
	}
	if len(scopes) == 0 {
		return accessClaims{}, denied(403, "token grants no scope")
	}

	return accessClaims{
		Workspace: payload.Workspace,
		Agent:     payload.Agent,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}, nil
}

func decodeTokenSegment(segment string, out any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// claimUnixTime tolerates exp arriving as a JSON number in either integer
// or float form.
func claimUnixTime(v any) (int64, bool) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), true
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(typed.String(), 64); err == nil {
			return int64(f), true
		}
	case int64:
		return typed, true
	}
	return 0, false
}

// checkInternalSignature verifies the service-to-service intake headers:
// an RFC3339 timestamp inside the skew window and a hex HMAC-SHA256 over
// timestamp, a newline, and the raw body.
func checkInternalSignature(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) *authDenied {
	if timestamp == "" || signature == "" {
		return denied(401, "internal signature headers required")
	}
	sentAt, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return denied(401, "internal timestamp must be RFC3339")
	}
	skew := now.Sub(sentAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return denied(401, "internal timestamp outside the accepted window")
	}
	expected := internalDigest(secret, timestamp, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return denied(401, "internal signature mismatch")
	}
	return nil
}

func internalDigest(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
