package redact

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedactor(t *testing.T) *Redactor {
	t.Helper()
	r, err := New(zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRedact_GitHubToken(t *testing.T) {
	r := newTestRedactor(t)

	token := "ghp_" + strings.Repeat("a1B2c3D4e5", 3) + "123456"
	in := "our ESI proxy uses " + token + " should we rotate it?"

	out := r.Redact(in)
	assert.NotContains(t, out, token)
	assert.Contains(t, out, "[REDACTED:github-pat]")
	assert.True(t, strings.HasPrefix(out, "our ESI proxy uses "))
}

func TestRedact_CleanTextUnchanged(t *testing.T) {
	r := newTestRedactor(t)

	in := "Should we move our Rorquals from Delve to Querious next month?"
	assert.Equal(t, in, r.Redact(in))
	assert.Empty(t, r.Detect(in))
}

func TestRedact_Concurrent(t *testing.T) {
	r := newTestRedactor(t)
	token := "ghp_" + strings.Repeat("Z9y8X7w6V5", 3) + "543210"

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotContains(t, r.Redact("key "+token), token)
		}()
	}
	wg.Wait()
}
