package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	tokenAudience  = "monocle"
	tokenAlgorithm = "HS256"

	ScopeProgressRead  = "progress:read"
	ScopeProgressWrite = "progress:write"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

// tokenClaims is a verified bearer token: the user it speaks for and what
// that user may do with their own progress record.
type tokenClaims struct {
	Subject string
	Expires time.Time
	Scopes  []string
}

func (c tokenClaims) grants(scope string) bool {
	return scope == "" || slices.Contains(c.Scopes, scope)
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenPayload struct {
	Sub    string    `json:"sub"`
	Aud    string    `json:"aud"`
	Exp    int64     `json:"exp"`
	Scopes scopeList `json:"scopes"`
}

// scopeList accepts either a JSON array or a space separated string.
type scopeList []string

func (l *scopeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var joined string
		if err := json.Unmarshal(data, &joined); err != nil {
			return err
		}
		*l = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	out := list[:0]
	for _, scope := range list {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	*l = out
	return nil
}

// TokenRequest describes a bearer token to mint.
type TokenRequest struct {
	Subject string
	Scopes  []string
	Expires time.Time
}

// SignToken mints an HS256 bearer token accepted by the server.
func SignToken(secret string, req TokenRequest) (string, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return "", errors.New("token subject is required")
	}
	header, err := encodeSegment(tokenHeader{Alg: tokenAlgorithm, Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := encodeSegment(tokenPayload{
		Sub:    req.Subject,
		Aud:    tokenAudience,
		Exp:    req.Expires.Unix(),
		Scopes: req.Scopes,
	})
	if err != nil {
		return "", err
	}
	signature := signSegments(secret, header, payload)
	return header + "." + payload + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func signSegments(secret, header, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(header + "." + payload))
	return mac.Sum(nil)
}

func decodeSegment(segment string, dst any) bool {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// authorizeBearer verifies the token and checks that it belongs to userID
// and carries requiredScope. Tokens only ever grant access to the
// subject's own record.
func authorizeBearer(authHeader, jwtSecret, userID, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := verifyToken(authHeader, jwtSecret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if userID != "" && claims.Subject != userID {
		return tokenClaims{}, forbidden("token does not belong to this user")
	}
	if !claims.grants(requiredScope) {
		return tokenClaims{}, forbidden("missing required scope: " + requiredScope)
	}
	return claims, nil
}

func verifyToken(authHeader, jwtSecret string, now time.Time) (tokenClaims, *authError) {
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return tokenClaims{}, unauthorized("invalid jwt format")
	}

	var header tokenHeader
	if !decodeSegment(parts[0], &header) {
		return tokenClaims{}, unauthorized("invalid jwt header")
	}
	if header.Alg != tokenAlgorithm {
		return tokenClaims{}, unauthorized("unsupported jwt algorithm")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return tokenClaims{}, unauthorized("invalid jwt signature")
	}
	if !hmac.Equal(signature, signSegments(jwtSecret, parts[0], parts[1])) {
		return tokenClaims{}, unauthorized("jwt signature mismatch")
	}

	var payload tokenPayload
	if !decodeSegment(parts[1], &payload) {
		return tokenClaims{}, unauthorized("invalid jwt payload")
	}
	switch {
	case strings.TrimSpace(payload.Sub) == "":
		return tokenClaims{}, unauthorized("missing sub claim")
	case payload.Aud != tokenAudience:
		return tokenClaims{}, unauthorized("invalid aud claim")
	case payload.Exp <= 0:
		return tokenClaims{}, unauthorized("missing exp claim")
	}
	expires := time.Unix(payload.Exp, 0)
	if !now.Before(expires) {
		return tokenClaims{}, unauthorized("token expired")
	}
	if len(payload.Scopes) == 0 {
		return tokenClaims{}, forbidden("no scopes granted")
	}
	return tokenClaims{
		Subject: payload.Sub,
		Expires: expires,
		Scopes:  payload.Scopes,
	}, nil
}
