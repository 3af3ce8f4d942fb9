package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// mockCaller serves getNonce reads from a test-controlled counter.
type mockCaller struct {
	mu    sync.Mutex
	nonce int64
}

func (m *mockCaller) Call(_ context.Context, _ common.Address, _ []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return common.LeftPadBytes(big.NewInt(m.nonce).Bytes(), 32), nil
}

func (m *mockCaller) bump() {
	m.mu.Lock()
	m.nonce++
	m.mu.Unlock()
}

func newTestForwarder(t *testing.T, relayURL string, caller *mockCaller) *Forwarder {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RelayURL = relayURL
	cfg.ForwarderContract = "0x00000000000000000000000000000000000000f0"
	cfg.PrivateKeyHex = common.Bytes2Hex(crypto.FromECDSA(key))

	fwd, err := New(cfg, caller, big.NewInt(1337), nil, zerolog.Nop())
	require.NoError(t, err)
	return fwd
}

func TestForward_SignsAndSubmits(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{
			"transactionHash": "0x" + common.Bytes2Hex(make([]byte, 32)),
		})
	}))
	defer srv.Close()

	caller := &mockCaller{nonce: 7}
	fwd := newTestForwarder(t, srv.URL, caller)

	hash, err := fwd.Forward(context.Background(), Intent{
		To:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Data: []byte{0xde, 0xad, 0xbe, 0xef},
	})
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, hash) // zero hash round-trips verbatim

	require.Equal(t, fwd.From().Hex(), got.From)
	require.Equal(t,
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		common.HexToAddress(got.To))
	require.Equal(t, "7", got.Nonce)
	require.Equal(t, "0", got.Value)
	require.Equal(t, "2000000", got.Gas) // default ceiling
	require.Equal(t, "0xdeadbeef", got.Data)
	require.Len(t, common.FromHex(got.Signature), 65)
	require.NotEmpty(t, got.Deadline)
}

func TestForward_NonceMonotonicity(t *testing.T) {
	const n = 8

	caller := &mockCaller{}
	var mu sync.Mutex
	var seen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req relayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req.Nonce)
		mu.Unlock()
		caller.bump()
		json.NewEncoder(w).Encode(map[string]string{
			"transactionHash": "0x" + common.Bytes2Hex(common.LeftPadBytes([]byte{1}, 32)),
		})
	}))
	defer srv.Close()

	fwd := newTestForwarder(t, srv.URL, caller)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fwd.Forward(context.Background(), Intent{
				To:   common.HexToAddress("0xaa"),
				Data: []byte{0x01},
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for i, nonce := range seen {
		// Strictly increasing, no two submissions share a nonce.
		require.Equal(t, big.NewInt(int64(i)).String(), nonce)
	}
}

func TestForward_RelayStatusErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	fwd := newTestForwarder(t, srv.URL, &mockCaller{})

	_, err := fwd.Forward(context.Background(), Intent{To: common.HexToAddress("0xaa")})
	var statusErr *RelayStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.False(t, errors.Is(err, ErrMissingTxHash))
}

func TestForward_MissingTxHashOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	fwd := newTestForwarder(t, srv.URL, &mockCaller{})

	_, err := fwd.Forward(context.Background(), Intent{To: common.HexToAddress("0xaa")})
	require.ErrorIs(t, err, ErrMissingTxHash)

	var statusErr *RelayStatusError
	require.False(t, errors.As(err, &statusErr))
}

func TestForward_RelayErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "nonce too low"})
	}))
	defer srv.Close()

	fwd := newTestForwarder(t, srv.URL, &mockCaller{})

	_, err := fwd.Forward(context.Background(), Intent{To: common.HexToAddress("0xaa")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "nonce too low")
}
