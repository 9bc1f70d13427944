package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const DefaultSignatureHeader = "X-Outbound-Signature"

var (
	ErrSignatureMissing = errors.New("signature header missing")
	ErrSignatureInvalid = errors.New("signature mismatch")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
)

type SignerConfig struct {
	Secret []byte
	// Header carries "t=<unix>,v1=<hex hmac>". Default X-Outbound-Signature.
	Header string
	Now    func() time.Time
}

type signer struct {
	next Transport
	cfg  SignerConfig
}

// WithSigner signs every attempt with HMAC-SHA256 over "<unix>.<body>". Each
// retry gets a fresh timestamp, so receivers can reject stale deliveries.
func WithSigner(next Transport, cfg SignerConfig) Transport {
	if cfg.Header == "" {
		cfg.Header = DefaultSignatureHeader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &signer{next: next, cfg: cfg}
}

func (s *signer) Do(ctx context.Context, req Request) (*Response, error) {
	ts := s.cfg.Now().Unix()
	h := req.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(s.cfg.Header, fmt.Sprintf("t=%d,v1=%s", ts, sign(s.cfg.Secret, ts, req.Body)))
	req.Header = h
	return s.next.Do(ctx, req)
}

func sign(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a header produced by WithSigner. A zero tolerance
// skips the timestamp check.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" {
		return ErrSignatureMissing
	}

	var ts int64
	var got string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
			ts = n
		case "v1":
			got = v
		}
	}
	if ts == 0 || got == "" {
		return ErrSignatureMissing
	}
	if tolerance > 0 {
		if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
			return ErrSignatureExpired
		}
	}
	if !hmac.Equal([]byte(got), []byte(sign(secret, ts, body))) {
		return ErrSignatureInvalid
	}
	return nil
}
