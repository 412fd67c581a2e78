package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynt445/ticket-system/internal/config"
)

var testCreds = Credentials{
	ConsumerKey:    "ck",
	ConsumerSecret: "cs",
	ShortCode:      "174379",
	Passkey:        "passkey",
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.GatewayConfig{
		BaseURL:     baseURL,
		CallbackURL: "https://tickets.example.com/api/payments/callback",
		Timeout:     5 * time.Second,
		ConfigKey:   "test-config-key",
	})
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"254712345678", "254712345678", false},
		{"+254712345678", "254712345678", false},
		{"0712345678", "254712345678", false},
		{"254 712 345 678", "254712345678", false},
		{"712345678", "", true},
		{"25471234567", "", true},
		{"2547123456789", "", true},
		{"254abc345678", "", true},
	}
	for _, c := range cases {
		got, err := NormalizePhone(c.in)
		if c.wantErr {
			assert.ErrorIs(t, err, ErrBadPhone, c.in)
		} else {
			require.NoError(t, err, c.in)
			assert.Equal(t, c.want, got)
		}
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	client := newTestClient("http://unused")

	encrypted, err := client.EncryptCredentials(testCreds)
	require.NoError(t, err)

	decrypted, err := client.DecryptCredentials(encrypted)
	require.NoError(t, err)
	assert.Equal(t, testCreds, *decrypted)
}

func TestDecryptCredentialsWrongKey(t *testing.T) {
	encrypted, err := newTestClient("http://unused").EncryptCredentials(testCreds)
	require.NoError(t, err)

	other := NewClient(config.GatewayConfig{ConfigKey: "different-key"})
	_, err = other.DecryptCredentials(encrypted)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestInitiateSTKPush(t *testing.T) {
	var pushBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "ck", user)
			assert.Equal(t, "cs", pass)
			json.NewEncoder(w).Encode(map[string]string{"access_token": "token-1"})
		case "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pushBody))
			json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID":   "merch-1",
				"CheckoutRequestID":   "ws_CO_0001",
				"ResponseCode":        "0",
				"ResponseDescription": "Success",
				"CustomerMessage":     "Enter your PIN",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	encrypted, err := client.EncryptCredentials(testCreds)
	require.NoError(t, err)

	result, err := client.InitiateSTKPush(context.Background(), encrypted,
		"+254712345678", 199.6, "TICKET-res1", "Payment for Summer Fest")
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_0001", result.CheckoutRequestID)
	assert.Equal(t, "merch-1", result.MerchantRequestID)

	assert.Equal(t, "174379", pushBody["BusinessShortCode"])
	assert.Equal(t, float64(200), pushBody["Amount"]) // rounded to whole shillings
	assert.Equal(t, "254712345678", pushBody["PhoneNumber"])
	assert.Equal(t, "TICKET-res1", pushBody["AccountReference"])
	assert.Equal(t, "https://tickets.example.com/api/payments/callback", pushBody["CallBackURL"])
}

func TestInitiateSTKPushGatewayDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	encrypted, err := client.EncryptCredentials(testCreds)
	require.NoError(t, err)

	_, err = client.InitiateSTKPush(context.Background(), encrypted,
		"254712345678", 100, "TICKET-res1", "Payment")
	assert.Error(t, err)
}

func TestParseCallbackSuccess(t *testing.T) {
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merch-1",
				"CheckoutRequestID": "ws_CO_0001",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 200},
						{"Name": "MpesaReceiptNumber", "Value": "QGR7TEST01"},
						{"Name": "TransactionDate", "Value": 20260831143000},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`

	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	result, err := ParseCallback(&env)
	require.NoError(t, err)

	assert.True(t, result.Succeeded)
	assert.Equal(t, "ws_CO_0001", result.CheckoutRequestID)
	assert.Equal(t, 200.0, result.Amount)
	assert.Equal(t, "QGR7TEST01", result.ReceiptRef)
	assert.Equal(t, "254712345678", result.PayerPhone)
	assert.Equal(t, 2026, result.CompletedAt.Year())
}

func TestParseCallbackFailure(t *testing.T) {
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merch-1",
				"CheckoutRequestID": "ws_CO_0001",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`

	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	result, err := ParseCallback(&env)
	require.NoError(t, err)

	assert.False(t, result.Succeeded)
	assert.Equal(t, "Request cancelled by user", result.ResultDesc)
	assert.Empty(t, result.ReceiptRef)
}

func TestParseCallbackMissingCheckoutID(t *testing.T) {
	var env CallbackEnvelope
	_, err := ParseCallback(&env)
	assert.Error(t, err)
}
