// Package qr issues and validates the encrypted entry tokens carried inside
// ticket QR codes. A token is bound to (ticket, event, owner, version); any
// re-issuance bumps the ticket's version and permanently invalidates every
// earlier token for that ticket.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrMalformed       = errors.New("qr: token malformed")
	ErrVersionMismatch = errors.New("qr: token version mismatch")
	ErrBadMAC          = errors.New("qr: MAC verification failed")
	ErrTokenExpired    = errors.New("qr: token freshness window elapsed")
)

// Payload is the decrypted token content.
type Payload struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id"`
	UserID   string `json:"user_id"`
	IssuedAt int64  `json:"issued_at"`
	Version  int    `json:"version"`
	MAC      string `json:"hmac"`
}

type Service struct {
	secret []byte
	maxAge time.Duration

	// overridable for tests
	now func() time.Time
}

func NewService(secret string, maxAge time.Duration) *Service {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Service{
		secret: hashed[:],
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Issue builds, authenticates and encrypts a token for the given binding.
func (s *Service) Issue(ticketID, eventID, userID string, version int) (string, error) {
	payload := Payload{
		TicketID: ticketID,
		EventID:  eventID,
		UserID:   userID,
		IssuedAt: s.now().UnixMilli(),
		Version:  version,
		MAC:      s.mac(ticketID, eventID, userID, version),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return encryptAES(data, s.secret)
}

// Validate decrypts a token and checks structure, version, MAC and age, in
// that order. expectedVersion is the ticket's current stored qr_version; any
// other version is invalid, not merely stale.
func (s *Service) Validate(token string, expectedVersion int) (*Payload, error) {
	payload, err := s.Decode(token)
	if err != nil {
		return nil, err
	}

	if payload.TicketID == "" || payload.EventID == "" || payload.UserID == "" || payload.Version == 0 {
		return nil, ErrMalformed
	}

	if payload.Version != expectedVersion {
		return nil, ErrVersionMismatch
	}

	expected := s.mac(payload.TicketID, payload.EventID, payload.UserID, payload.Version)
	if !hmac.Equal([]byte(expected), []byte(payload.MAC)) {
		return nil, ErrBadMAC
	}

	age := s.now().Sub(time.UnixMilli(payload.IssuedAt))
	if age > s.maxAge {
		return nil, ErrTokenExpired
	}

	return payload, nil
}

// Decode decrypts a token without validating it. The scan path uses this to
// resolve the ticket before running the full check against its stored
// version.
func (s *Service) Decode(token string) (*Payload, error) {
	data, err := decryptAES(token, s.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &payload, nil
}

func (s *Service) mac(ticketID, eventID, userID string, version int) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s:%s:%d", ticketID, eventID, userID, version)
	return hex.EncodeToString(mac.Sum(nil))
}

func encryptAES(data []byte, key []byte) (string, error) {
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

func decryptAES(token string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(token)
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
