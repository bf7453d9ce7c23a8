package gamedata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/specialist"
)

func TestSection(t *testing.T) {
	for _, k := range specialist.All() {
		assert.NotEmpty(t, Section(k), k)
	}
}

func TestNop(t *testing.T) {
	out, err := Nop{}.Fetch(context.Background(), "corp-1", specialist.Market)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewHTTP_RequiresURL(t *testing.T) {
	_, err := NewHTTP(Config{}, nil)
	assert.Error(t, err)
}

func TestHTTP_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/corporations/corp-1/wallet":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{\n  \"balance\": 1200000000,\n  \"divisions\": [1, 2]\n}"))
		case "/v1/corporations/corp-1/orders":
			http.NotFound(w, r)
		case "/v1/corporations/corp-1/mining":
			_, _ = w.Write([]byte(`{"ledger": [` + strings.Repeat(`"x",`, 100) + `"x"]}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	p, err := NewHTTP(Config{BaseURL: srv.URL + "/v1/", MaxBytes: 64}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("compacts json", func(t *testing.T) {
		out, err := p.Fetch(ctx, "corp-1", specialist.Economic)
		require.NoError(t, err)
		assert.Equal(t, `{"balance":1200000000,"divisions":[1,2]}`, out)
	})

	t.Run("not found is empty", func(t *testing.T) {
		out, err := p.Fetch(ctx, "corp-1", specialist.Market)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("truncates", func(t *testing.T) {
		out, err := p.Fetch(ctx, "corp-1", specialist.Mining)
		require.NoError(t, err)
		assert.Len(t, out, 64)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := p.Fetch(ctx, "corp-1", specialist.Recruiting)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := p.Fetch(ctx, "corp-1", specialist.Kind("pirate"))
		assert.Error(t, err)
	})
}
