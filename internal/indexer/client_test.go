package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.PageSize = 2

	c, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestBattlesByOperator_Paginates(t *testing.T) {
	pages := [][]Battle{
		{{Address: "0x01", Operator: "0xbot"}, {Address: "0x02", Operator: "0xbot"}},
		{{Address: "0x03", Operator: "0xbot"}},
	}
	var calls int

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "0xbot", req.Variables["operator"])
		require.Equal(t, float64(2), req.Variables["first"])

		page := pages[calls]
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"battles": map[string]any{"items": page},
			},
		})
	})

	battles, err := c.BattlesByOperator(context.Background(), "0xBOT")
	require.NoError(t, err)
	require.Len(t, battles, 3)
	require.Equal(t, 2, calls)
	require.Equal(t, "0x03", battles[2].Address)
}

func TestBattleByAddress_MissingReturnsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"battles": map[string]any{"items": []Battle{}},
			},
		})
	})

	b, err := c.BattleByAddress(context.Background(), "0x01")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestQuery_GraphQLErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": "unknown field"}},
		})
	})

	_, err := c.BattleByAddress(context.Background(), "0x01")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestQuery_HTTPStatusErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.PartiesByOwner(context.Background(), "0xbot")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
