// Package wellknown holds documents served under /.well-known.
package wellknown

// ProtectedResourcePath is where RFC 9728 metadata is published.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the RFC 9728 description of this API: who
// issues the tokens it accepts and how they are presented.
type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
}

// NewProtectedResourceMetadata describes resource. Empty issuers and jwksURI
// are omitted. Tokens are only accepted in the Authorization header.
func NewProtectedResourceMetadata(resource, name, jwksURI string, issuers ...string) ProtectedResourceMetadata {
	md := ProtectedResourceMetadata{
		Resource:               resource,
		JwksURI:                jwksURI,
		BearerMethodsSupported: []string{"header"},
		ResourceName:           name,
	}
	for _, iss := range issuers {
		if iss != "" {
			md.AuthorizationServers = append(md.AuthorizationServers, iss)
		}
	}
	return md
}
