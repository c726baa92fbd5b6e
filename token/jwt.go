package token

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/secrets"
)

var logger = logging.Log()

const JwtExpirationDays = 365

// Only RS256 is accepted anywhere in the system. This is a closed policy,
// not configurable per call.
var jwtAlgoAccepted = []string{"RS256"}

const clockSkewLeeway = 10 * time.Second

const (
	issuerPrefixAccount = "account_id-"
	issuerPrefixMember  = "member_id-"
)

// SignerResolver resolves the issuer of a not-yet-verified token to the
// secret holding its signing certificate, for example by downloading the
// cert from the remote pod. It must not trust anything from the token
// beyond the claimed issuer.
type SignerResolver interface {
	ResolveSigner(unverified *JWT) (*secrets.Secret, model.HttpError)
}

// Claims is the wire format of the token payload.
type Claims struct {
	Scope     string `json:"scope"`
	ServiceId *int   `json:"service_id,omitempty"`
	jwt.RegisteredClaims
}

// Valid applies the expiration window with the clock-skew leeway. A token
// without an expiration is rejected, it would otherwise never expire.
// Audience and issuer are checked structurally by Decode.
func (c *Claims) Valid() error {
	now := jwt.TimeFunc()
	if c.ExpiresAt == nil {
		return jwt.NewValidationError("token has no expiration", jwt.ValidationErrorClaimsInvalid)
	}
	if now.After(c.ExpiresAt.Time.Add(clockSkewLeeway)) {
		return jwt.NewValidationError("token is expired", jwt.ValidationErrorExpired)
	}
	if c.NotBefore != nil && now.Add(clockSkewLeeway).Before(c.NotBefore.Time) {
		return jwt.NewValidationError("token is not valid yet", jwt.ValidationErrorNotValidYet)
	}
	return nil
}

// JWT is a scoped bearer token signed by an identity of the network.
// A decoded-but-unverified token must not be used for any authorization
// decision. Verified gates all downstream use.
type JWT struct {
	Issuer     string
	IssuerId   uuid.UUID
	IssuerType model.IdType

	Audience []string

	// Scope names the identity the token was minted for. The receiving
	// entity matches it against its own type and id.
	Scope     string
	ScopeType model.IdType
	ScopeId   string

	ServiceId  *int
	Expiration time.Time

	NetworkName string
	Encoded     string
	Verified    bool

	Signer *secrets.Secret
}

// Create issues a token signed with the private key of the signing
// identity. Only accounts and members issue tokens.
func Create(identifier uuid.UUID, idType model.IdType, signer *secrets.Secret, networkName string, serviceId *int, scopeType model.IdType, scopeId string, expirationDays int) (issued *JWT, httpErr model.HttpError) {
	logger.Debug("Creating a JWT.")

	if signer == nil || signer.PrivateKey() == nil {
		return issued, model.HttpError{Status: http.StatusBadRequest, Message: "Signing secret has no private key."}
	}

	var issuer string
	switch idType {
	case model.IdTypeAccount:
		issuer = issuerPrefixAccount + identifier.String()
	case model.IdTypeMember:
		issuer = issuerPrefixMember + identifier.String()
	default:
		return issued, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Invalid id type: %s.", idType)}
	}

	if expirationDays == 0 {
		expirationDays = JwtExpirationDays
	}

	issued = &JWT{
		Issuer:      issuer,
		IssuerId:    identifier,
		IssuerType:  idType,
		Audience:    []string{audienceFor(networkName)},
		Scope:       GenerateScope(scopeId, scopeType, serviceId, networkName),
		ScopeType:   scopeType,
		ScopeId:     scopeId,
		ServiceId:   serviceId,
		Expiration:  time.Now().UTC().AddDate(0, 0, expirationDays),
		NetworkName: networkName,
		Verified:    true,
		Signer:      signer,
	}

	claims := &Claims{
		Scope:     issued.Scope,
		ServiceId: serviceId,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issued.Expiration),
			Issuer:    "urn:" + issuer,
			Audience:  jwt.ClaimStrings(issued.Audience),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(signer.PrivateKey())
	if err != nil {
		return issued, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to sign the token.", RootError: err}
	}
	issued.Encoded = encoded
	return issued, httpErr
}

// GenerateScope builds the scope string: urn:{scopeId}.{scopeType} plus,
// when a service id is given, -{serviceId}, followed by .{networkName}.
func GenerateScope(scopeId string, scopeType model.IdType, serviceId *int, networkName string) string {
	scope := fmt.Sprintf("urn:%s.%s", scopeId, scopeType)
	if serviceId != nil {
		scope += fmt.Sprintf("-%d", *serviceId)
	}
	return scope + "." + networkName
}

// Decode parses a token from an authorization header value. When a trusted
// signer is supplied, the signature is verified against it immediately.
// Otherwise the claims are decoded without signature verification and,
// when a resolver is supplied, the signer cert is obtained through it and
// the signature verified afterwards - the only path by which the issuer
// claim of an unverified token may become trusted.
//
// The structural claim checks run regardless of verification state, they
// only parse claims and never authorize.
func Decode(authorization string, trustedSigner *secrets.Secret, networkName string, resolver SignerResolver) (decoded *JWT, httpErr model.HttpError) {
	tokenString := strings.TrimSpace(authorization)
	if len(tokenString) >= len("bearer") && strings.EqualFold(tokenString[:len("bearer")], "bearer") {
		tokenString = strings.TrimSpace(tokenString[len("bearer"):])
	}

	claims := &Claims{}
	verified := false

	if trustedSigner != nil {
		httpErr = verifySignature(tokenString, claims, trustedSigner)
		if httpErr != (model.HttpError{}) {
			return decoded, httpErr
		}
		verified = true
	} else {
		parser := jwt.NewParser(jwt.WithValidMethods(jwtAlgoAccepted))
		if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
			return decoded, model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Was not able to parse the token. Error: %v", err), RootError: err}
		}
	}

	decoded = &JWT{
		NetworkName: networkName,
		Encoded:     tokenString,
		Verified:    verified,
		Scope:       claims.Scope,
		ServiceId:   claims.ServiceId,
	}
	// The unverified parse skips claim validation, so the expiration has to
	// be required here as well.
	if claims.ExpiresAt == nil {
		return decoded, model.HttpError{Status: http.StatusUnauthorized, Message: "No expiration specified in the JWT."}
	}
	decoded.Expiration = claims.ExpiresAt.Time

	httpErr = decoded.parseIssuer(claims.Issuer)
	if httpErr != (model.HttpError{}) {
		return decoded, httpErr
	}

	httpErr = decoded.parseAudience(claims.Audience, networkName)
	if httpErr != (model.HttpError{}) {
		return decoded, httpErr
	}

	httpErr = decoded.parseScope(networkName)
	if httpErr != (model.HttpError{}) {
		return decoded, httpErr
	}

	if verified {
		decoded.Signer = trustedSigner
		return decoded, model.HttpError{}
	}

	if resolver == nil {
		return decoded, model.HttpError{}
	}

	signer, httpErr := resolver.ResolveSigner(decoded)
	if httpErr != (model.HttpError{}) {
		logger.Debugf("Was not able to resolve the signer for issuer %s.", decoded.Issuer)
		return decoded, httpErr
	}

	httpErr = verifySignature(tokenString, &Claims{}, signer)
	if httpErr != (model.HttpError{}) {
		return decoded, httpErr
	}
	decoded.Verified = true
	decoded.Signer = signer
	return decoded, model.HttpError{}
}

// CheckScope confirms the token was minted for the receiving identity.
func (j *JWT) CheckScope(scopeType model.IdType, scopeId string) (httpErr model.HttpError) {
	if j.ScopeType != scopeType {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("JWT does not match our scope type: %s.", scopeType)}
	}
	if j.ScopeId != scopeId {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("JWT does not match our scope ID: %s.", scopeId)}
	}
	return httpErr
}

// AsAuthToken returns the token as the value for an Authorization header.
func (j *JWT) AsAuthToken() string {
	return "bearer " + j.Encoded
}

// AsHeader returns the header for use in HTTP requests.
func (j *JWT) AsHeader() map[string]string {
	return map[string]string{"Authorization": j.AsAuthToken()}
}

func (j *JWT) parseIssuer(issuer string) (httpErr model.HttpError) {
	if issuer == "" {
		return model.HttpError{Status: http.StatusUnauthorized, Message: "No issuer specified in the JWT."}
	}
	if !strings.HasPrefix(issuer, "urn:") {
		return model.HttpError{Status: http.StatusUnauthorized, Message: "JWT issuer does not start with \"urn:\"."}
	}
	issuer = strings.TrimSpace(issuer[len("urn:"):])
	j.Issuer = issuer

	var idPart string
	switch {
	case strings.HasPrefix(issuer, issuerPrefixMember):
		j.IssuerType = model.IdTypeMember
		idPart = issuer[len(issuerPrefixMember):]
	case strings.HasPrefix(issuer, issuerPrefixAccount):
		j.IssuerType = model.IdTypeAccount
		idPart = issuer[len(issuerPrefixAccount):]
	default:
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid issuer in JWT: %s.", issuer)}
	}

	issuerId, err := uuid.Parse(idPart)
	if err != nil {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid issuer id in JWT: %s.", idPart), RootError: err}
	}
	j.IssuerId = issuerId
	return httpErr
}

func (j *JWT) parseAudience(audience []string, networkName string) (httpErr model.HttpError) {
	if len(audience) != 1 {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid audience targets in JWT: %d.", len(audience))}
	}
	if audience[0] != audienceFor(networkName) {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid audience in JWT: %s.", audience[0])}
	}
	j.Audience = audience
	return httpErr
}

func (j *JWT) parseScope(networkName string) (httpErr model.HttpError) {
	scope := j.Scope
	if scope == "" {
		return model.HttpError{Status: http.StatusUnauthorized, Message: "No scope specified in the JWT."}
	}
	if strings.HasPrefix(scope, "urn:") {
		scope = strings.TrimSpace(scope[len("urn:"):])
	}

	parts := strings.SplitN(scope, ".", 3)
	if len(parts) != 3 {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid scope format in JWT: %s.", j.Scope)}
	}
	hostname, subdomain, domain := parts[0], parts[1], parts[2]

	if domain != networkName {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Network %s does not equal %s.", domain, networkName)}
	}

	scopeTypeValue := subdomain
	if strings.Contains(subdomain, "-") {
		segments := strings.SplitN(subdomain, "-", 2)
		scopeTypeValue = segments[0]
		serviceId, err := strconv.Atoi(segments[1])
		if err != nil {
			return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid service id in JWT scope: %s.", segments[1]), RootError: err}
		}
		if j.ServiceId == nil || *j.ServiceId != serviceId {
			return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Service id %d does not equal the service_id claim.", serviceId)}
		}
	}

	scopeType := model.IdType(scopeTypeValue)
	switch scopeType {
	case model.IdTypeAccount, model.IdTypeMember, model.IdTypeService, model.IdTypeNetwork:
	default:
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid scope type in JWT: %s.", scopeTypeValue)}
	}

	if scopeType == model.IdTypeService {
		if _, err := strconv.Atoi(hostname); err != nil {
			return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid service scope id in JWT: %s.", hostname), RootError: err}
		}
	} else {
		if _, err := uuid.Parse(hostname); err != nil {
			return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Invalid scope id in JWT: %s.", hostname), RootError: err}
		}
	}

	j.ScopeType = scopeType
	j.ScopeId = hostname
	return httpErr
}

func verifySignature(tokenString string, claims *Claims, signer *secrets.Secret) (httpErr model.HttpError) {
	parser := jwt.NewParser(jwt.WithValidMethods(jwtAlgoAccepted))
	parsed, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("invalid_token_method")
		}
		publicKey, httpErr := signer.PublicKey()
		if httpErr != (model.HttpError{}) {
			return nil, &httpErr
		}
		return publicKey, nil
	})
	if err != nil {
		return model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Was not able to verify the token. Error: %v", err), RootError: err}
	}
	if !parsed.Valid {
		return model.HttpError{Status: http.StatusUnauthorized, Message: "Did not receive a valid token."}
	}
	return httpErr
}

func audienceFor(networkName string) string {
	return "urn:network-" + networkName
}
