package webhook

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier("whsec_test")
	v.now = func() time.Time { return now }
	return v
}

func TestVerifyValidSignature(t *testing.T) {
	now := time.Unix(1756700000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{"id":"pred-1","status":"succeeded"}`)

	sig := v.Sign(payload, now)
	err := v.Verify(payload, sig, strconv.FormatInt(now.Unix(), 10))
	assert.NoError(t, err)
}

func TestVerifyTimestampWindow(t *testing.T) {
	now := time.Unix(1756700000, 0)
	payload := []byte(`{"id":"pred-1"}`)

	tests := []struct {
		name    string
		age     time.Duration
		wantErr error
	}{
		{"fresh", 0, nil},
		{"just inside past", 299 * time.Second, nil},
		{"at boundary", 300 * time.Second, nil},
		{"just outside past", 301 * time.Second, ErrStaleTimestamp},
		{"just inside future", -299 * time.Second, nil},
		{"just outside future", -301 * time.Second, ErrStaleTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(now)
			signedAt := now.Add(-tt.age)
			sig := v.Sign(payload, signedAt)
			err := v.Verify(payload, sig, strconv.FormatInt(signedAt.Unix(), 10))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	now := time.Unix(1756700000, 0)
	v := newTestVerifier(now)
	ts := strconv.FormatInt(now.Unix(), 10)

	sig := v.Sign([]byte(`{"status":"failed"}`), now)
	err := v.Verify([]byte(`{"status":"succeeded"}`), sig, ts)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyTamperedTimestamp(t *testing.T) {
	now := time.Unix(1756700000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{"id":"pred-1"}`)

	// Signature was computed over an older timestamp; presenting a fresh
	// one must not pass.
	sig := v.Sign(payload, now.Add(-10*time.Minute))
	err := v.Verify(payload, sig, strconv.FormatInt(now.Unix(), 10))
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Unix(1756700000, 0)
	payload := []byte(`{"id":"pred-1"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	other := NewVerifier("whsec_other")
	sig := other.Sign(payload, now)

	v := newTestVerifier(now)
	assert.ErrorIs(t, v.Verify(payload, sig, ts), ErrSignatureMismatch)
}

func TestVerifyMalformedHeaders(t *testing.T) {
	now := time.Unix(1756700000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	valid := v.Sign(payload, now)

	require.NoError(t, v.Verify(payload, valid, ts))

	assert.ErrorIs(t, v.Verify(payload, "", ts), ErrMissingSignature)
	assert.ErrorIs(t, v.Verify(payload, valid, ""), ErrMissingTimestamp)
	assert.ErrorIs(t, v.Verify(payload, "v2=deadbeef", ts), ErrMalformedSignature)
	assert.ErrorIs(t, v.Verify(payload, "deadbeef", ts), ErrMalformedSignature)
	assert.ErrorIs(t, v.Verify(payload, "v1=not-hex", ts), ErrMalformedSignature)
	assert.ErrorIs(t, v.Verify(payload, valid, "not-a-number"), ErrMalformedTimestamp)
}
