package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/lifecycle"
	"github.com/secureshuttle/escrow/settlement"
	"github.com/secureshuttle/escrow/store"
	"github.com/secureshuttle/escrow/types"
	"github.com/secureshuttle/escrow/vault"
)

type stubChain struct {
	balance uint64
}

func (s *stubChain) GenerateKeypair() (string, string) {
	w := solana.NewWallet()
	return w.PublicKey().String(), w.PrivateKey.String()
}

func (s *stubChain) Balance(context.Context, string) (uint64, error) {
	return s.balance, nil
}

func (s *stubChain) RecentSignatures(context.Context, string, int) ([]ledger.SignatureInfo, error) {
	return nil, nil
}

func (s *stubChain) Transfer(context.Context, ledger.TransferRequest) (*ledger.TransferResult, error) {
	return &ledger.TransferResult{Signature: "sig", Status: ledger.CommitmentConfirmed}, nil
}

func (s *stubChain) SignatureStatus(context.Context, string) (ledger.SignatureStatus, error) {
	return ledger.SignatureStatus{Status: ledger.CommitmentConfirmed}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	v, err := vault.New("httpapi-test-material")
	require.NoError(t, err)
	chain := &stubChain{balance: 1_000_000}
	eng := settlement.New(st, chain, v, nil)
	mgr := lifecycle.New(st, chain, eng, v, lifecycle.Config{}, nil)
	return NewRouter(NewHandler(mgr, nil), nil)
}

func doJSON(router *gin.Engine, method, path, userID, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind types.ErrorKind
		want int
	}{
		{types.KindNotFound, http.StatusNotFound},
		{types.KindAuthRequired, http.StatusUnauthorized},
		{types.KindForbidden, http.StatusForbidden},
		{types.KindAlreadyTerminal, http.StatusConflict},
		{types.KindInvalidState, http.StatusConflict},
		{types.KindInvalidAddress, http.StatusUnprocessableEntity},
		{types.KindInsufficientFunds, http.StatusBadRequest},
		{types.KindInviteToken, http.StatusBadRequest},
		{types.KindRPCError, http.StatusBadGateway},
		{"banana", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), "kind %s", tt.kind)
	}
}

func TestCreateEndpoint(t *testing.T) {
	router := newTestRouter(t)

	t.Run("missing identity yields 401", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/escrows", "", `{"label":"gig"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("creates and returns the join token once", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/escrows", "alice",
			`{"label":"gig","expected_amount_lamports":1000000}`)
		require.Equal(t, http.StatusCreated, w.Code)

		var body struct {
			Escrow    escrowView `json:"escrow"`
			JoinToken string     `json:"join_token"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body.JoinToken)
		assert.Equal(t, types.StatusOpen, body.Escrow.Status)
		assert.NotEmpty(t, body.Escrow.CustodialAddress)

		// The sealed secret never crosses the wire.
		assert.NotContains(t, w.Body.String(), "enc::")
	})

	t.Run("malformed sender address yields 422", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/escrows", "alice",
			`{"sender_address":"garbage"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestEscrowAccessEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/escrows", "alice", `{"label":"gig"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Escrow    escrowView `json:"escrow"`
		JoinToken string     `json:"join_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Escrow.ID

	t.Run("stranger is forbidden", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/v1/escrows/"+id, "mallory", "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("creator reads the escrow", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/v1/escrows/"+id, "alice", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/v1/escrows/missing", "alice", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("claim via public link", func(t *testing.T) {
		w := doJSON(router, http.MethodPost,
			"/v1/public/escrows/"+created.Escrow.PublicID+"/claim", "bob",
			`{"role":"recipient","join_token":"`+created.JoinToken+`"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var esc escrowView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &esc))
		assert.Equal(t, "bob", esc.PayeeUserID)
	})

	t.Run("forged join token is 400", func(t *testing.T) {
		w := doJSON(router, http.MethodPost,
			"/v1/public/escrows/"+created.Escrow.PublicID+"/claim", "carol",
			`{"role":"sender","join_token":"forged"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("balance endpoint", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/v1/escrows/"+id+"/balance", "alice", "")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Address  string `json:"address"`
			Lamports uint64 `json:"lamports"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, uint64(1_000_000), body.Lamports)
	})
}

func TestOptionalBodies(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/escrows", "alice", `{"label":"gig"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Escrow    escrowView `json:"escrow"`
		JoinToken string     `json:"join_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(router, http.MethodPost,
		"/v1/public/escrows/"+created.Escrow.PublicID+"/claim", "alice",
		`{"role":"sender","join_token":"`+created.JoinToken+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("dispute without a reason", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/escrows/"+created.Escrow.ID+"/dispute", "alice", "")
		require.Equal(t, http.StatusOK, w.Code)

		var esc escrowView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &esc))
		assert.Equal(t, types.StatusDisputed, esc.Status)
	})

	t.Run("cancel with no body is a transferless cancel", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost,
			"/v1/escrows/"+created.Escrow.ID+"/cancel", strings.NewReader(""))
		req.Header.Set("X-User-Id", "alice")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Escrow escrowView `json:"escrow"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, types.StatusCancelled, body.Escrow.Status)
		assert.NotContains(t, w.Body.String(), "outcome")
	})
}
