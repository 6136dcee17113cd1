// Package auth implements the two-lane bearer token gate: a submit token
// for proposing catalog changes and an approve token for governance
// actions. Reads stay anonymous.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Role is the privilege level resolved from a bearer token.
type Role int

const (
	RoleAnonymous Role = iota
	RoleSubmitter
	RoleApprover
)

func (r Role) String() string {
	switch r {
	case RoleSubmitter:
		return "submitter"
	case RoleApprover:
		return "approver"
	default:
		return "anonymous"
	}
}

// Gate resolves bearer tokens to roles.
type Gate struct {
	submitToken  string
	approveToken string
}

// NewGate builds the gate from configured tokens. An unset lane token falls
// back to the legacy write token; if that is also unset a random token is
// generated and printed once to the operator log.
func NewGate(submitToken, approveToken, writeToken string, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	if submitToken == "" {
		if writeToken != "" {
			submitToken = writeToken
		} else {
			submitToken = generateToken()
			log.Warn("no submit token configured, generated one for this run",
				zap.String("submit_token", submitToken))
		}
	}
	if approveToken == "" {
		if writeToken != "" {
			approveToken = writeToken
		} else {
			approveToken = generateToken()
			log.Warn("no approve token configured, generated one for this run",
				zap.String("approve_token", approveToken))
		}
	}
	return &Gate{submitToken: submitToken, approveToken: approveToken}
}

func generateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: cannot read random source: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// RoleFor resolves the presented bearer token. The approve token also grants
// the submit lane.
func (g *Gate) RoleFor(token string) Role {
	if token == "" {
		return RoleAnonymous
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.approveToken)) == 1 {
		return RoleApprover
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.submitToken)) == 1 {
		return RoleSubmitter
	}
	return RoleAnonymous
}

// FromRequest extracts the bearer token from the Authorization header and
// resolves its role.
func (g *Gate) FromRequest(r *http.Request) Role {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return RoleAnonymous
	}
	return g.RoleFor(strings.TrimSpace(token))
}

// Require returns middleware rejecting requests below the minimum role with
// 403.
func (g *Gate) Require(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.FromRequest(r) < min {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","message":"missing or invalid token"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
