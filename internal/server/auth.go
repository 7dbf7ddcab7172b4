package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/auditcontext"
	"github.com/smallbiznis/stockopname/internal/authorization"
	obscontext "github.com/smallbiznis/stockopname/internal/observability/context"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
)

const contextStaffIDKey = "staff_id"

type principalKey struct{}

var errInvalidToken = errors.New("invalid_token")

// TokenVerifier validates bearer tokens issued by the identity provider.
// Only HMAC-signed tokens are accepted; sub carries the staff id.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(strings.TrimSpace(secret)),
		issuer: strings.TrimSpace(issuer),
	}
}

func (v *TokenVerifier) StaffID(raw string) (snowflake.ID, error) {
	if v == nil || len(v.secret) == 0 {
		return 0, errInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	id, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || id == 0 {
		return 0, errInvalidToken
	}
	return id, nil
}

// AuthRequired resolves the bearer token to an active staff member and
// stores the principal on the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		staffID, err := s.tokens.StaffID(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		principal, err := s.staff.Principal(ctx, staffID)
		if err != nil {
			if errors.Is(err, staffdomain.ErrStaffNotFound) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}

		ctx = withPrincipal(ctx, principal)
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeStaff), principal.StaffID.String())
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeStaff), principal.StaffID.String())
		if principal.BranchID != nil {
			ctx = obscontext.WithBranchID(ctx, principal.BranchID.String())
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextStaffIDKey, principal.StaffID.String())
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func withPrincipal(ctx context.Context, principal authorization.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func principalFromContext(ctx context.Context) (authorization.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(authorization.Principal)
	return principal, ok && principal.StaffID != 0
}

// principal is only called behind AuthRequired; a missing principal aborts with 401.
func principal(c *gin.Context) (authorization.Principal, bool) {
	p, ok := principalFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
	}
	return p, ok
}

type meResponse struct {
	authorization.Principal
	BranchCapabilities *authorization.BranchCapabilities `json:"branch_capabilities,omitempty"`
}

func (s *Server) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	resp := meResponse{Principal: p}
	if p.BranchID != nil {
		caps := s.authzSvc.EvaluateBranch(c.Request.Context(), p, *p.BranchID)
		resp.BranchCapabilities = &caps
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
