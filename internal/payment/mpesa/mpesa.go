// Package mpesa is the Safaricom Daraja client used for STK-push checkout.
// Every organizer brings their own paybill: the API credentials live
// AES-encrypted on the event row and are decrypted per call, never cached.
package mpesa

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/config"
)

var (
	ErrBadPhone  = errors.New("mpesa: phone number must be a Kenyan MSISDN (254XXXXXXXXX)")
	ErrBadConfig = errors.New("mpesa: could not decrypt gateway credentials")
)

var phonePattern = regexp.MustCompile(`^254[0-9]{9}$`)

// Credentials are the per-event Daraja secrets, stored encrypted on the
// event's gateway_config column.
type Credentials struct {
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
	ShortCode      string `json:"shortCode"`
	Passkey        string `json:"passkey"`
}

type Client struct {
	BaseURL     string
	CallbackURL string
	HTTP        *http.Client

	configKey []byte
	now       func() time.Time
}

func NewClient(cfg config.GatewayConfig) *Client {
	key := sha256.Sum256([]byte(cfg.ConfigKey))
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		CallbackURL: cfg.CallbackURL,
		HTTP:        &http.Client{Timeout: timeout},
		configKey:   key[:],
		now:         time.Now,
	}
}

// NormalizePhone strips whitespace and a leading "+", then requires the
// 254XXXXXXXXX form.
func NormalizePhone(phone string) (string, error) {
	clean := strings.ReplaceAll(phone, " ", "")
	clean = strings.TrimPrefix(clean, "+")
	if strings.HasPrefix(clean, "0") {
		clean = "254" + clean[1:]
	}
	if !phonePattern.MatchString(clean) {
		return "", ErrBadPhone
	}
	return clean, nil
}

// DecryptCredentials unwraps the event's stored gateway configuration.
func (c *Client) DecryptCredentials(encrypted string) (*Credentials, error) {
	data, err := decryptAES(encrypted, c.configKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" || creds.ShortCode == "" || creds.Passkey == "" {
		return nil, ErrBadConfig
	}
	return &creds, nil
}

// EncryptCredentials wraps credentials for storage. Organizer onboarding and
// the seed tooling use this; the checkout path only ever decrypts.
func (c *Client) EncryptCredentials(creds Credentials) (string, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	return encryptAES(data, c.configKey)
}

// STKPushResult is Daraja's acknowledgement that the push was dispatched to
// the handset. The actual payment outcome arrives later on the callback.
type STKPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiateSTKPush asks Daraja to prompt the payer's handset for amount.
// reference ends up on the payer's statement; amount is rounded to whole
// shillings as the API requires.
func (c *Client) InitiateSTKPush(ctx context.Context, encryptedConfig, phone string, amount float64, reference, description string) (*STKPushResult, error) {
	creds, err := c.DecryptCredentials(encryptedConfig)
	if err != nil {
		return nil, err
	}

	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	token, err := c.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(creds.ShortCode + creds.Passkey + timestamp))

	body := map[string]any{
		"BusinessShortCode": creds.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int(math.Round(amount)),
		"PartyA":            msisdn,
		"PartyB":            creds.ShortCode,
		"PhoneNumber":       msisdn,
		"CallBackURL":       c.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	var result STKPushResult
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, body, &result); err != nil {
		return nil, err
	}
	if result.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: stk push rejected: %s", apperr.ErrGatewayUnavailable, result.ResponseDescription)
	}
	return &result, nil
}

// QueryResult is the synchronous answer of the stkpushquery endpoint.
// ResultCode "0" means paid; anything else is failed or cancelled. A push
// still waiting on the handset comes back as an errorCode instead, which
// postJSON surfaces as ErrGatewayUnavailable and callers treat as "ask
// again later".
type QueryResult struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (q *QueryResult) Succeeded() bool { return q.ResultCode == "0" }

// QueryStatus asks Daraja for the outcome of an earlier push.
func (c *Client) QueryStatus(ctx context.Context, encryptedConfig, checkoutRequestID string) (*QueryResult, error) {
	creds, err := c.DecryptCredentials(encryptedConfig)
	if err != nil {
		return nil, err
	}

	token, err := c.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(creds.ShortCode + creds.Passkey + timestamp))

	body := map[string]any{
		"BusinessShortCode": creds.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var result QueryResult
	if err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) accessToken(ctx context.Context, creds *Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: oauth: %v", apperr.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: oauth returned %s", apperr.ErrGatewayUnavailable, resp.Status)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: oauth decode: %v", apperr.ErrGatewayUnavailable, err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: oauth returned empty token", apperr.ErrGatewayUnavailable)
	}
	return tokenResp.AccessToken, nil
}

func (c *Client) postJSON(ctx context.Context, path, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrGatewayUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", apperr.ErrGatewayUnavailable, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s: %s", apperr.ErrGatewayUnavailable, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", apperr.ErrGatewayUnavailable, path, err)
	}
	return nil
}

// CallbackEnvelope mirrors the JSON Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackResult is the flattened outcome extracted from a callback envelope.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	Succeeded         bool
	ResultDesc        string
	Amount            float64
	ReceiptRef        string
	PayerPhone        string
	CompletedAt       time.Time
}

// ParseCallback flattens the envelope's metadata items into a CallbackResult.
func ParseCallback(env *CallbackEnvelope) (*CallbackResult, error) {
	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, errors.New("mpesa: callback missing CheckoutRequestID")
	}

	result := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		Succeeded:         cb.ResultCode == 0,
		ResultDesc:        cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				result.Amount = v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				result.ReceiptRef = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				result.PayerPhone = fmt.Sprintf("%.0f", v)
			case string:
				result.PayerPhone = v
			}
		case "TransactionDate":
			// Daraja sends YYYYMMDDHHMMSS as a number.
			if v, ok := item.Value.(float64); ok {
				if ts, err := time.ParseInLocation("20060102150405", fmt.Sprintf("%.0f", v), time.Local); err == nil {
					result.CompletedAt = ts
				}
			}
		}
	}
	return result, nil
}

func encryptAES(data, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encrypted string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext shorter than IV")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	return data, nil
}
