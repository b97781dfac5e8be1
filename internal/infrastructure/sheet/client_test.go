package sheet

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSheets struct {
	server     *httptest.Server
	key        *rsa.PrivateKey
	tokenCalls atomic.Int32
	column     [][]string
	written    []valueRange
	writePaths []string
}

func newFakeSheets(t *testing.T) *fakeSheets {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeSheets{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, jwtBearerGrant, r.PostForm.Get("grant_type"))

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(token *jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "robot@example.iam.gserviceaccount.com", claims["iss"])
		assert.Equal(t, spreadsheetsScope, claims["scope"])

		f.tokenCalls.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"sheet-token","expires_in":3600}`)
	})
	mux.HandleFunc("/v4/spreadsheets/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sheet-token", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/v4/spreadsheets/book-1/values/'Orders'!B:B", r.URL.Path)
			_ = json.NewEncoder(w).Encode(valueRange{Values: f.column})
		case http.MethodPut:
			assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
			var vr valueRange
			require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
			f.written = append(f.written, vr)
			f.writePaths = append(f.writePaths, r.URL.Path)
			_, _ = io.WriteString(w, `{}`)
		}
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSheets) credentials() *Credentials {
	der := x509.MarshalPKCS1PrivateKey(f.key)
	return &Credentials{
		ClientEmail:  "robot@example.iam.gserviceaccount.com",
		PrivateKeyID: "kid-1",
		PrivateKey:   string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})),
		TokenURI:     f.server.URL + "/token",
	}
}

func (f *fakeSheets) client(t *testing.T) *Client {
	client, err := NewClient(config.SheetConfig{
		BaseURL:       f.server.URL,
		SpreadsheetID: "book-1",
		SheetName:     "Orders",
		TrackerColumn: 2,
	}, f.credentials(), nil)
	require.NoError(t, err)
	return client
}

func TestColumnName(t *testing.T) {
	tests := map[int]string{0: "", 1: "A", 2: "B", 26: "Z", 27: "AA", 52: "AZ", 53: "BA", 702: "ZZ", 703: "AAA"}
	for col, want := range tests {
		assert.Equal(t, want, ColumnName(col), "column %d", col)
	}
}

func TestParseCredentials(t *testing.T) {
	_, err := ParseCredentials([]byte(`{"client_email":"a@b"}`))
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = ParseCredentials([]byte(`not json`))
	assert.Error(t, err)

	creds, err := ParseCredentials([]byte(`{"client_email":"a@b","private_key":"pem","token_uri":"https://t"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://t", creds.TokenURI)

	_, err = LoadCredentials("")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestClient_FindRowByTracker(t *testing.T) {
	fake := newFakeSheets(t)
	fake.column = [][]string{{"Tracker"}, {}, {"1111 2222"}, {"1234-567-890"}}
	client := fake.client(t)

	row, err := client.FindRowByTracker(context.Background(), "Orders", "1234567890")
	require.NoError(t, err)
	assert.Equal(t, 4, row)

	_, err = client.FindRowByTracker(context.Background(), "Orders", "99999999")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.Equal(t, int32(1), fake.tokenCalls.Load(), "access token is reused")
}

func TestClient_WriteCell(t *testing.T) {
	fake := newFakeSheets(t)
	client := fake.client(t)

	err := client.WriteCell(context.Background(), "Orders", 4, 3, "In transit")
	require.NoError(t, err)
	require.Len(t, fake.written, 1)
	assert.Equal(t, "'Orders'!C4", fake.written[0].Range)
	assert.Equal(t, [][]string{{"In transit"}}, fake.written[0].Values)
	assert.Equal(t, "/v4/spreadsheets/book-1/values/'Orders'!C4", fake.writePaths[0])

	err = client.WriteCell(context.Background(), "Orders", 0, 1, "x")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestClient_TokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	fake := newFakeSheets(t)
	creds := fake.credentials()
	creds.TokenURI = server.URL

	client, err := NewClient(config.SheetConfig{BaseURL: server.URL, SpreadsheetID: "x"}, creds, nil)
	require.NoError(t, err)
	_, err = client.FindRowByTracker(context.Background(), "Orders", "12345678")
	assert.ErrorIs(t, err, fulfillment.ErrGatewayAuthFailed)
}

func TestClient_InvalidKey(t *testing.T) {
	fake := newFakeSheets(t)
	creds := fake.credentials()
	creds.PrivateKey = "garbage"

	client, err := NewClient(config.SheetConfig{BaseURL: fake.server.URL, SpreadsheetID: "x"}, creds, nil)
	require.NoError(t, err)
	err = client.WriteCell(context.Background(), "Orders", 1, 1, "x")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}
