package wellknown

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProtectedResourceMetadata(t *testing.T) {
	md := NewProtectedResourceMetadata("https://api.example.com", "taskd", "", "", "https://auth.example.com")
	assert.Equal(t, []string{"https://auth.example.com"}, md.AuthorizationServers)
	assert.Equal(t, []string{"header"}, md.BearerMethodsSupported)

	b, err := json.Marshal(md)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "https://api.example.com", got["resource"])
	assert.NotContains(t, got, "jwks_uri")
}
