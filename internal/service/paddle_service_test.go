package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"app/internal/model"
)

func testPaddleConfig() PaddleConfig {
	return PaddleConfig{
		Environment:     "sandbox",
		WebhookSecret:   "whsec_test",
		IPAllowlist:     []string{"34.194.127.46", "10.0.0.0/8"},
		MaxVariance:     5 * time.Second,
		TrustProxy:      false,
		ForwardedHeader: "X-Forwarded-For",
		ForwardedFormat: ForwardedFormatXFF,
		ProxyHops:       1,
	}
}

func newTestPaddleService(t *testing.T, cfg PaddleConfig, billing *fakeBillingRepo, grants *fakeGrantRepo) *paddleService {
	t.Helper()
	svc := NewPaddleService(cfg, billing, grants, zerolog.Nop()).(*paddleService)
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return svc
}

func signBody(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d:", ts)
	mac.Write(body)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature(t *testing.T) {
	svc := newTestPaddleService(t, testPaddleConfig(), newFakeBillingRepo(), newFakeGrantRepo())
	body := []byte(`{"event_id":"evt_1"}`)
	ts := svc.now().Unix()

	t.Run("valid signature accepted", func(t *testing.T) {
		assert.NoError(t, svc.verifySignature(body, signBody("whsec_test", ts, body)))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		err := svc.verifySignature(body, signBody("whsec_other", ts, body))
		assert.ErrorIs(t, err, ErrBadWebhook)
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		header := signBody("whsec_test", ts, body)
		err := svc.verifySignature([]byte(`{"event_id":"evt_2"}`), header)
		assert.ErrorIs(t, err, ErrBadWebhook)
	})

	t.Run("multiple h1 segments, any match wins", func(t *testing.T) {
		good := signBody("whsec_test", ts, body)
		header := fmt.Sprintf("%s;h1=%s", good, "deadbeef")
		assert.NoError(t, svc.verifySignature(body, header))
	})

	t.Run("timestamp at variance boundary accepted", func(t *testing.T) {
		assert.NoError(t, svc.verifySignature(body, signBody("whsec_test", ts-5, body)))
		assert.NoError(t, svc.verifySignature(body, signBody("whsec_test", ts+5, body)))
	})

	t.Run("expired timestamp rejected", func(t *testing.T) {
		err := svc.verifySignature(body, signBody("whsec_test", ts-6, body))
		require.ErrorIs(t, err, ErrBadWebhook)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("future timestamp rejected", func(t *testing.T) {
		err := svc.verifySignature(body, signBody("whsec_test", ts+6, body))
		require.ErrorIs(t, err, ErrBadWebhook)
		assert.Contains(t, err.Error(), "future")
	})

	malformed := map[string]string{
		"empty header":       "",
		"missing ts":         "h1=abc",
		"missing h1":         "ts=" + strconv.FormatInt(ts, 10),
		"duplicate ts":       fmt.Sprintf("ts=%d;ts=%d;h1=abc", ts, ts),
		"non-numeric ts":     "ts=soon;h1=abc",
		"unknown key":        fmt.Sprintf("ts=%d;h1=abc;v1=xyz", ts),
		"segment without eq": fmt.Sprintf("ts=%d;h1", ts),
	}
	for name, header := range malformed {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, svc.verifySignature(body, header), ErrBadWebhook)
		})
	}
}

func TestResolveClientIP(t *testing.T) {
	t.Run("trust proxy off uses socket peer", func(t *testing.T) {
		svc := newTestPaddleService(t, testPaddleConfig(), newFakeBillingRepo(), newFakeGrantRepo())
		headers := http.Header{}
		headers.Set("X-Forwarded-For", "203.0.113.9")

		ip, err := svc.resolveClientIP("34.194.127.46:51234", headers)
		require.NoError(t, err)
		assert.Equal(t, "34.194.127.46", ip)
	})

	t.Run("xff with one proxy hop picks second from last", func(t *testing.T) {
		cfg := testPaddleConfig()
		cfg.TrustProxy = true
		svc := newTestPaddleService(t, cfg, newFakeBillingRepo(), newFakeGrantRepo())
		headers := http.Header{}
		headers.Set("X-Forwarded-For", "198.51.100.7, 34.194.127.46, 10.1.2.3")

		ip, err := svc.resolveClientIP("10.1.2.3:443", headers)
		require.NoError(t, err)
		assert.Equal(t, "34.194.127.46", ip)
	})

	t.Run("too few entries for configured hops", func(t *testing.T) {
		cfg := testPaddleConfig()
		cfg.TrustProxy = true
		cfg.ProxyHops = 3
		svc := newTestPaddleService(t, cfg, newFakeBillingRepo(), newFakeGrantRepo())
		headers := http.Header{}
		headers.Set("X-Forwarded-For", "34.194.127.46, 10.1.2.3")

		_, err := svc.resolveClientIP("10.1.2.3:443", headers)
		assert.ErrorIs(t, err, ErrBadWebhook)
	})

	t.Run("missing forwarded header", func(t *testing.T) {
		cfg := testPaddleConfig()
		cfg.TrustProxy = true
		svc := newTestPaddleService(t, cfg, newFakeBillingRepo(), newFakeGrantRepo())

		_, err := svc.resolveClientIP("10.1.2.3:443", http.Header{})
		assert.ErrorIs(t, err, ErrBadWebhook)
	})

	t.Run("rfc 7239 forwarded format", func(t *testing.T) {
		cfg := testPaddleConfig()
		cfg.TrustProxy = true
		cfg.ForwardedHeader = "Forwarded"
		cfg.ForwardedFormat = ForwardedFormatForwarded
		svc := newTestPaddleService(t, cfg, newFakeBillingRepo(), newFakeGrantRepo())
		headers := http.Header{}
		headers.Set("Forwarded", `for="34.194.127.46:8080";proto=https, for=10.1.2.3`)

		ip, err := svc.resolveClientIP("10.1.2.3:443", headers)
		require.NoError(t, err)
		assert.Equal(t, "34.194.127.46", ip)
	})
}

func TestCheckAllowlist(t *testing.T) {
	svc := newTestPaddleService(t, testPaddleConfig(), newFakeBillingRepo(), newFakeGrantRepo())

	assert.NoError(t, svc.checkAllowlist("34.194.127.46"))
	assert.NoError(t, svc.checkAllowlist("10.42.0.1"))
	assert.ErrorIs(t, svc.checkAllowlist("203.0.113.9"), ErrIPDenied)

	t.Run("empty allowlist is a config error", func(t *testing.T) {
		cfg := testPaddleConfig()
		cfg.IPAllowlist = []string{"not-an-ip", ""}
		empty := newTestPaddleService(t, cfg, newFakeBillingRepo(), newFakeGrantRepo())
		assert.ErrorIs(t, empty.checkAllowlist("34.194.127.46"), ErrAllowlistConfig)
	})
}

func transactionBody(eventID, eventType, userID string, items string) []byte {
	return []byte(fmt.Sprintf(`{
		"event_id": %q,
		"event_type": %q,
		"data": {
			"id": "txn_123",
			"custom_data": {"supabase_user_id": %q},
			"items": %s
		}
	}`, eventID, eventType, userID, items))
}

func TestHandleEventGrantsCredits(t *testing.T) {
	billing := newFakeBillingRepo()
	billing.plans["pri_small"] = model.BillingPlan{PaddlePriceID: "pri_small", Credits: 1000}
	billing.plans["pri_large"] = model.BillingPlan{PaddlePriceID: "pri_large", Credits: 5000}
	grants := newFakeGrantRepo()
	svc := newTestPaddleService(t, testPaddleConfig(), billing, grants)

	body := transactionBody("evt_1", "transaction.completed", "user-1",
		`[{"price_id": "pri_small", "quantity": 2}, {"price": {"id": "pri_large"}}]`)

	out, err := svc.handleEvent(context.Background(), body)
	require.NoError(t, err)
	assert.True(t, out.Received)
	assert.Equal(t, int64(7000), out.Granted)
	assert.Equal(t, int64(7000), billing.balances["user-1"])

	g := grants.grants[grantKey("user-1", model.GrantSourcePaddle, "evt_1")]
	require.NotNil(t, g)
	assert.Equal(t, int64(7000), g.CreditsGranted)
	require.NotNil(t, g.TransactionID)
	assert.Equal(t, "txn_123", *g.TransactionID)
}

func TestHandleEventReplayDoesNotRegrant(t *testing.T) {
	billing := newFakeBillingRepo()
	billing.plans["pri_small"] = model.BillingPlan{PaddlePriceID: "pri_small", Credits: 1000}
	svc := newTestPaddleService(t, testPaddleConfig(), billing, newFakeGrantRepo())

	body := transactionBody("evt_replay", "transaction.completed", "user-1",
		`[{"price_id": "pri_small", "quantity": 1}]`)

	first, err := svc.handleEvent(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.Granted)

	second, err := svc.handleEvent(context.Background(), body)
	require.NoError(t, err)
	assert.True(t, second.Received)
	assert.Zero(t, second.Granted)
	assert.Equal(t, int64(1000), billing.balances["user-1"], "replay must not move credits")
}

func TestHandleEventEdgeCases(t *testing.T) {
	t.Run("non-transaction event acknowledged without grant", func(t *testing.T) {
		billing := newFakeBillingRepo()
		svc := newTestPaddleService(t, testPaddleConfig(), billing, newFakeGrantRepo())
		body := []byte(`{"event_id": "evt_sub", "event_type": "subscription.updated", "data": {"id": "sub_1"}}`)

		out, err := svc.handleEvent(context.Background(), body)
		require.NoError(t, err)
		assert.True(t, out.Received)
		assert.Zero(t, out.Granted)
		assert.Empty(t, billing.events)
	})

	t.Run("missing user id acknowledged without grant", func(t *testing.T) {
		billing := newFakeBillingRepo()
		billing.plans["pri_small"] = model.BillingPlan{PaddlePriceID: "pri_small", Credits: 1000}
		svc := newTestPaddleService(t, testPaddleConfig(), billing, newFakeGrantRepo())
		body := []byte(`{"event_id": "evt_nouser", "event_type": "transaction.completed", "data": {"id": "txn_1", "items": [{"price_id": "pri_small"}]}}`)

		out, err := svc.handleEvent(context.Background(), body)
		require.NoError(t, err)
		assert.True(t, out.Received)
		assert.Zero(t, billing.balances["user-1"])
	})

	t.Run("unknown prices yield zero credits", func(t *testing.T) {
		billing := newFakeBillingRepo()
		svc := newTestPaddleService(t, testPaddleConfig(), billing, newFakeGrantRepo())
		body := transactionBody("evt_unknown", "transaction.completed", "user-1", `[{"price_id": "pri_missing"}]`)

		out, err := svc.handleEvent(context.Background(), body)
		require.NoError(t, err)
		assert.True(t, out.Received)
		assert.Zero(t, out.Granted)
		assert.Empty(t, billing.events, "zero-credit transactions claim no event row")
	})

	t.Run("missing identifiers rejected", func(t *testing.T) {
		svc := newTestPaddleService(t, testPaddleConfig(), newFakeBillingRepo(), newFakeGrantRepo())
		_, err := svc.handleEvent(context.Background(), []byte(`{"event_type": "transaction.completed", "data": {"items": []}}`))
		assert.ErrorIs(t, err, ErrBadWebhook)
	})

	t.Run("record failure reported as received", func(t *testing.T) {
		billing := newFakeBillingRepo()
		billing.plans["pri_small"] = model.BillingPlan{PaddlePriceID: "pri_small", Credits: 1000}
		billing.recordErr = fmt.Errorf("store down")
		svc := newTestPaddleService(t, testPaddleConfig(), billing, newFakeGrantRepo())
		body := transactionBody("evt_fail", "transaction.completed", "user-1", `[{"price_id": "pri_small"}]`)

		out, err := svc.handleEvent(context.Background(), body)
		require.NoError(t, err)
		assert.True(t, out.Received)
		assert.Zero(t, out.Granted)
		assert.Zero(t, billing.balances["user-1"])
	})
}

func TestItemQuantity(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int64
	}{
		{"number", `3`, 3},
		{"numeric string", `"4"`, 4},
		{"zero clamps to one", `0`, 1},
		{"negative clamps to one", `-2`, 1},
		{"absent defaults to one", ``, 1},
		{"garbage defaults to one", `"many"`, 1},
		{"null defaults to one", `null`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := paddleItem{}
			if tc.raw != "" {
				item.Quantity = []byte(tc.raw)
			}
			assert.Equal(t, tc.want, itemQuantity(item))
		})
	}
}

func TestProcessWebhookEndToEnd(t *testing.T) {
	billing := newFakeBillingRepo()
	billing.plans["pri_small"] = model.BillingPlan{PaddlePriceID: "pri_small", Credits: 250}
	svc := newTestPaddleService(t, testPaddleConfig(), billing, newFakeGrantRepo())

	body := transactionBody("evt_e2e", "transaction.billed", "user-9", `[{"price_id": "pri_small", "quantity": 1}]`)
	header := signBody("whsec_test", svc.now().Unix(), body)

	out, err := svc.ProcessWebhook(context.Background(), body, header, "34.194.127.46:40000", http.Header{})
	require.NoError(t, err)
	assert.Equal(t, int64(250), out.Granted)

	t.Run("denied ip short-circuits before signature check", func(t *testing.T) {
		_, err := svc.ProcessWebhook(context.Background(), body, header, "203.0.113.9:40000", http.Header{})
		assert.ErrorIs(t, err, ErrIPDenied)
	})
}
