// Package auth turns bearer credentials into trusted identities.
//
// ExtractBearer parses an Authorization header value. A Resolver then
// converts the token into a UserInfo under exactly one Policy chosen at
// startup:
//
//   - PolicyRemoteDelegated asks an IdentityService who the token belongs to,
//     extracts the user id from the response and binds the token to a session
//     on that service. A failed binding rejects the credential.
//   - PolicyLocalSignatureVerified verifies the token signature, expiry and
//     audience in-process.
//   - PolicyClaimsOnly reads the claims without verifying the signature. It is
//     only safe behind a gateway that has already verified the token.
//
// Example:
//
//	res, err := auth.NewResolver(ctx, auth.Config{
//	    Policy: auth.PolicyLocalSignatureVerified,
//	    Secret: auth.Secret(os.Getenv("AUTH_JWT_SECRET")),
//	})
//	if err != nil { log.Fatal(err) }
//
//	tok, err := auth.ExtractBearer(r.Header.Get("Authorization"))
//	if err == nil {
//	    ui, err = res.Resolve(r.Context(), tok)
//	}
//	if ch := auth.ChallengeFor(err, "taskd"); ch != nil { /* 401 */ }
//
// # Errors
//
// ErrMissingAuthHeader and ErrMalformedAuthScheme come from the extractor.
// Every resolution failure satisfies errors.Is(err, ErrInvalidCredential);
// the internal cause is joined for server-side logs and must not be shown to
// clients. ChallengeFor maps all three onto generic 401 challenges.
package auth
