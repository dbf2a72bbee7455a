package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/videoblade/videoblade-api/configs"
	"github.com/videoblade/videoblade-api/pkg/utils"
)

func TestRunPrintsValidToken(t *testing.T) {
	cfg := &config.Config{IdentitySecret: "dev-secret", IdentityIssuer: "identity"}
	var out bytes.Buffer

	require.NoError(t, run([]string{"-user", "user_42", "-ttl", "5m"}, cfg, &out))

	claims, err := utils.ValidateToken(cfg.IdentitySecret, cfg.IdentityIssuer, strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "user_42", claims.Subject)
}

func TestRunRequiresUserAndSecret(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(nil, &config.Config{IdentitySecret: "dev-secret"}, &out))
	assert.Error(t, run([]string{"-user", "u"}, &config.Config{}, &out))
	assert.Empty(t, out.String())
}
