// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package captcha implements the CAPTCHA challenge lifecycle: issuing a
// challenge record, verifying a client's response against a provider, and
// signing/parsing the trust cookie that lets a client skip future
// challenges on the same endpoint for a bounded duration.
package captcha

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TrustCookie is the decoded payload of a cookie issued after a client
// solves a CAPTCHA challenge. The wire format is
// base64(json(payload)).hex(hmac-sha256(base64 part)) — an unforgeable,
// self-contained token that needs no server-side lookup to validate.
type TrustCookie struct {
	Hash       string `json:"hash"` // opaque identifier tying the cookie to its originating challenge
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
	EndpointID string `json:"endpoint_id"`
	IP         string `json:"ip"`
}

// Signer signs and parses trust cookies with an HMAC-SHA256 key, grounded
// on the retrieved pack's HMAC-based unforgeable-identifier pattern
// (computeSiteID/computeDisplayID): hex-encode the full MAC rather than
// hand-rolling a signature scheme.
type Signer struct {
	key []byte
}

// NewSigner wires a signer against a secret key. The key should be stable
// across process restarts (e.g. sourced from config) so cookies issued
// before a restart remain valid.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign encodes and signs a trust cookie, returning the full cookie value.
func (s *Signer) Sign(c TrustCookie) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal trust cookie: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	mac := s.mac(encoded)
	return encoded + "." + hex.EncodeToString(mac), nil
}

// Parse decodes and verifies a cookie value, returning an error for any
// malformed token or bad signature. Per P9, a forged
// signature or an expires_at in the past must both be rejected — expiry is
// checked by HasValidTrust, not here, since a caller may want the payload
// even from an expired-but-authentic cookie for logging.
func (s *Signer) Parse(raw string) (TrustCookie, error) {
	encoded, sigHex, ok := splitOnce(raw, '.')
	if !ok {
		return TrustCookie{}, errors.New("captcha: malformed trust cookie")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return TrustCookie{}, fmt.Errorf("captcha: malformed signature: %w", err)
	}
	want := s.mac(encoded)
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return TrustCookie{}, errors.New("captcha: invalid trust cookie signature")
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return TrustCookie{}, fmt.Errorf("captcha: malformed payload: %w", err)
	}
	var c TrustCookie
	if err := json.Unmarshal(body, &c); err != nil {
		return TrustCookie{}, fmt.Errorf("captcha: malformed payload json: %w", err)
	}
	return c, nil
}

// HasValidTrust reports whether raw is a well-formed, correctly-signed,
// unexpired trust cookie for endpointID/ip (P9). Any parse failure,
// signature mismatch, endpoint/IP mismatch, or expiry returns false — never
// an error, since the caller (the request handler) only needs a bool to
// decide whether to skip re-challenging.
func (s *Signer) HasValidTrust(raw, endpointID, ip string, now time.Time) bool {
	c, err := s.Parse(raw)
	if err != nil {
		return false
	}
	if c.EndpointID != endpointID || c.IP != ip {
		return false
	}
	if now.Unix() > c.ExpiresAt {
		return false
	}
	return true
}

func (s *Signer) mac(encoded string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(encoded))
	return h.Sum(nil)
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
