package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/transport"
)

func payload() notification.Payload {
	return notification.Payload{
		Title: "Task due",
		Body:  "Write the report",
		Data:  notification.Data{Type: notification.TypeTaskDue, EntityID: "t-1"},
	}
}

func TestHTTP_SendSigned(t *testing.T) {
	t.Parallel()

	const secret = "s3cret"
	received := make(chan transport.Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig, err := transport.SignatureFromHeader(r.Header)
		if err != nil || transport.Verify(secret, body, sig, time.Minute, time.Now()) != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var msg transport.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- msg
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr, err := transport.NewHTTP(transport.HTTPConfig{URL: srv.URL, Secret: secret})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), "u1", payload()))

	msg := <-received
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "Task due", msg.Notification.Title)
	assert.Equal(t, notification.TypeTaskDue, msg.Notification.Type())
}

func TestHTTP_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			tr, err := transport.NewHTTP(transport.HTTPConfig{URL: srv.URL})
			require.NoError(t, err)

			err = tr.Send(context.Background(), "u1", payload())
			require.Error(t, err)
			assert.Equal(t, tt.permanent, transport.IsPermanent(err))
			assert.Equal(t, !tt.permanent, errors.Is(err, transport.ErrTemporary))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTP_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr, err := transport.NewHTTP(transport.HTTPConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = tr.Send(context.Background(), "u1", payload())
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.ErrorIs(t, err, transport.ErrTemporary)
}

func TestNewHTTP_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "ftp://example.com", "http://", "://bad"} {
		_, err := transport.NewHTTP(transport.HTTPConfig{URL: u})
		assert.ErrorIs(t, err, transport.ErrInvalidConfig, u)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"hello":"world"}`)
	sig, err := transport.Sign("key", body, now)
	require.NoError(t, err)
	assert.NotEmpty(t, sig.ID)

	require.NoError(t, transport.Verify("key", body, sig, time.Minute, now.Add(30*time.Second)))
	assert.ErrorIs(t, transport.Verify("other", body, sig, 0, now), transport.ErrBadSignature)
	assert.ErrorIs(t, transport.Verify("key", []byte("tampered"), sig, 0, now), transport.ErrBadSignature)
	assert.ErrorIs(t, transport.Verify("key", body, sig, time.Minute, now.Add(2*time.Minute)), transport.ErrBadSignature)
	assert.ErrorIs(t, transport.Verify("key", body, sig, time.Minute, now.Add(-2*time.Minute)), transport.ErrBadSignature)

	_, err = transport.Sign("", body, now)
	assert.ErrorIs(t, err, transport.ErrInvalidConfig)

	h := make(http.Header)
	sig.Apply(h)
	parsed, err := transport.SignatureFromHeader(h)
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = transport.SignatureFromHeader(http.Header{})
	assert.ErrorIs(t, err, transport.ErrBadSignature)
}

func TestFuncAndNoop(t *testing.T) {
	t.Parallel()

	var got string
	f := transport.Func(func(_ context.Context, userID string, _ notification.Payload) error {
		got = userID
		return nil
	})
	require.NoError(t, f.Send(context.Background(), "u9", payload()))
	assert.Equal(t, "u9", got)
	assert.NoError(t, transport.Noop{}.Send(context.Background(), "u9", payload()))
}
