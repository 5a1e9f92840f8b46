package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

var (
	// ErrBadWebhook maps to 400: malformed signature, timestamp skew, hop
	// mismatch, or missing provider identifiers.
	ErrBadWebhook = errors.New("bad webhook request")
	// ErrIPDenied maps to 403: the resolved client IP is outside the allowlist.
	ErrIPDenied = errors.New("ip not allowed")
	// ErrAllowlistConfig maps to 500: no valid allowlist networks configured.
	ErrAllowlistConfig = errors.New("ip allowlist misconfigured")
)

// Forwarded header formats.
const (
	ForwardedFormatXFF       = "x_forwarded_for"
	ForwardedFormatForwarded = "forwarded"
)

// PaddleConfig is the process-wide webhook verification configuration.
type PaddleConfig struct {
	Environment     string
	WebhookSecret   string
	IPAllowlist     []string
	MaxVariance     time.Duration
	TrustProxy      bool
	ForwardedHeader string
	ForwardedFormat string
	ProxyHops       int
}

// WebhookOutcome is the provider-facing result. Granted is zero when the
// event carried no creditable items or was a replay.
type WebhookOutcome struct {
	Received bool  `json:"received"`
	Granted  int64 `json:"granted,omitempty"`
}

type PaddleService interface {
	ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader, remoteAddr string, headers http.Header) (*WebhookOutcome, error)
}

type paddleService struct {
	cfg         PaddleConfig
	billingRepo repository.BillingRepository
	grantRepo   repository.GrantRepository
	networks    []*net.IPNet
	now         func() time.Time
	logger      zerolog.Logger
}

func NewPaddleService(cfg PaddleConfig, billingRepo repository.BillingRepository, grantRepo repository.GrantRepository, logger zerolog.Logger) PaddleService {
	lg := logger.With().Str("service", "PaddleService").Logger()

	var networks []*net.IPNet
	for _, entry := range cfg.IPAllowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			lg.Warn().Str("entry", entry).Err(err).Msg("Skipping unparsable allowlist entry")
			continue
		}
		networks = append(networks, network)
	}

	return &paddleService{
		cfg:         cfg,
		billingRepo: billingRepo,
		grantRepo:   grantRepo,
		networks:    networks,
		now:         time.Now,
		logger:      lg,
	}
}

func (s *paddleService) ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader, remoteAddr string, headers http.Header) (*WebhookOutcome, error) {
	clientIP, err := s.resolveClientIP(remoteAddr, headers)
	if err != nil {
		return nil, err
	}
	if err := s.checkAllowlist(clientIP); err != nil {
		return nil, err
	}
	if err := s.verifySignature(rawBody, signatureHeader); err != nil {
		return nil, err
	}
	return s.handleEvent(ctx, rawBody)
}

// resolveClientIP walks the configured forwarded header back through the
// expected number of proxy hops. With trust_proxy off, the socket peer wins.
func (s *paddleService) resolveClientIP(remoteAddr string, headers http.Header) (string, error) {
	if !s.cfg.TrustProxy {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			host = remoteAddr
		}
		if net.ParseIP(host) == nil {
			return "", fmt.Errorf("%w: invalid peer address %q", ErrBadWebhook, remoteAddr)
		}
		return host, nil
	}

	raw := headers.Get(s.cfg.ForwardedHeader)
	if raw == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrBadWebhook, s.cfg.ForwardedHeader)
	}

	var hops []string
	if s.cfg.ForwardedFormat == ForwardedFormatForwarded {
		hops = parseForwardedEntries(raw)
	} else {
		for _, part := range strings.Split(raw, ",") {
			hops = append(hops, strings.TrimSpace(part))
		}
	}

	idx := len(hops) - (s.cfg.ProxyHops + 1)
	if idx < 0 {
		return "", fmt.Errorf("%w: hops mismatch (%d entries, %d proxy hops)", ErrBadWebhook, len(hops), s.cfg.ProxyHops)
	}

	candidate := stripPortAndBrackets(hops[idx])
	if net.ParseIP(candidate) == nil {
		return "", fmt.Errorf("%w: forwarded entry %q is not a valid IP", ErrBadWebhook, hops[idx])
	}
	return candidate, nil
}

// parseForwardedEntries extracts the for= values from an RFC 7239 Forwarded
// header, preserving entry order.
func parseForwardedEntries(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		for _, pair := range strings.Split(entry, ";") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) != 2 || !strings.EqualFold(kv[0], "for") {
				continue
			}
			out = append(out, strings.Trim(kv[1], `"`))
		}
	}
	return out
}

func stripPortAndBrackets(value string) string {
	value = strings.TrimSpace(value)
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	return strings.Trim(value, "[]")
}

func (s *paddleService) checkAllowlist(clientIP string) error {
	if len(s.networks) == 0 {
		s.logger.Error().Msg("No valid networks in Paddle IP allowlist")
		return ErrAllowlistConfig
	}
	ip := net.ParseIP(clientIP)
	for _, network := range s.networks {
		if network.Contains(ip) {
			return nil
		}
	}
	s.logger.Warn().Str("client_ip", clientIP).Msg("Webhook source IP outside allowlist")
	return fmt.Errorf("%w: %s", ErrIPDenied, clientIP)
}

// verifySignature checks the Paddle-Signature header: exactly one ts segment,
// one or more h1 segments, skew within the configured variance, and a
// constant-time HMAC-SHA256 match over "{ts}:{raw_body}".
func (s *paddleService) verifySignature(rawBody []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing Paddle-Signature header", ErrBadWebhook)
	}

	var ts int64
	tsSeen := false
	var signatures []string
	for _, segment := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(segment), "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("%w: malformed signature segment %q", ErrBadWebhook, segment)
		}
		switch kv[0] {
		case "ts":
			if tsSeen {
				return fmt.Errorf("%w: duplicate ts segment", ErrBadWebhook)
			}
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: invalid ts value %q", ErrBadWebhook, kv[1])
			}
			ts = parsed
			tsSeen = true
		case "h1":
			signatures = append(signatures, kv[1])
		default:
			return fmt.Errorf("%w: unrecognized signature key %q", ErrBadWebhook, kv[0])
		}
	}
	if !tsSeen {
		return fmt.Errorf("%w: signature missing ts", ErrBadWebhook)
	}
	if len(signatures) == 0 {
		return fmt.Errorf("%w: signature missing h1", ErrBadWebhook)
	}

	delta := s.now().Unix() - ts
	variance := int64(s.cfg.MaxVariance / time.Second)
	if delta < -variance {
		return fmt.Errorf("%w: timestamp in future", ErrBadWebhook)
	}
	if delta > variance {
		return fmt.Errorf("%w: timestamp expired", ErrBadWebhook)
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(":"))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrBadWebhook)
}

type paddleEvent struct {
	EventID        string          `json:"event_id"`
	NotificationID string          `json:"notification_id"`
	ID             string          `json:"id"`
	EventType      string          `json:"event_type"`
	Data           json.RawMessage `json:"data"`
}

type paddleTransaction struct {
	ID         string                 `json:"id"`
	Items      []paddleItem           `json:"items"`
	CustomData map[string]interface{} `json:"custom_data"`
}

type paddleItem struct {
	PriceID  string          `json:"price_id"`
	Price    *paddlePrice    `json:"price"`
	Quantity json.RawMessage `json:"quantity"`
}

type paddlePrice struct {
	ID string `json:"id"`
}

func (s *paddleService) handleEvent(ctx context.Context, rawBody []byte) (*WebhookOutcome, error) {
	var event paddleEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body", ErrBadWebhook)
	}

	eventID := firstNonEmpty(event.EventID, event.NotificationID, event.ID)
	if eventID == "" || event.EventType == "" || len(event.Data) == 0 {
		return nil, fmt.Errorf("%w: missing event identifiers", ErrBadWebhook)
	}

	if event.EventType != "transaction.completed" && event.EventType != "transaction.billed" {
		s.logger.Info().Str("event_id", eventID).Str("event_type", event.EventType).Msg("Ignoring non-transaction Paddle event")
		return &WebhookOutcome{Received: true}, nil
	}

	txn, err := extractTransaction(event.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}

	userID := customDataUserID(txn.CustomData)
	if userID == "" {
		s.logger.Warn().Str("event_id", eventID).Str("event_type", event.EventType).Msg("Transaction carries no user id, skipping grant")
		return &WebhookOutcome{Received: true}, nil
	}

	priceIDs, totalCredits, err := s.computeCredits(ctx, txn.Items)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("Plan catalog lookup failed")
		return nil, err
	}
	if totalCredits <= 0 {
		s.logger.Info().Str("event_id", eventID).Str("user_id", userID).Msg("No creditable items on transaction")
		return &WebhookOutcome{Received: true}, nil
	}

	ev := &model.BillingEvent{
		EventID:        eventID,
		UserID:         userID,
		EventType:      event.EventType,
		PriceIDs:       priceIDs,
		CreditsGranted: totalCredits,
		Raw:            rawBody,
	}
	if txn.ID != "" {
		ev.TransactionID = &txn.ID
	}

	// At-most-once: the event row claims the grant. A duplicate (or a store
	// failure, which cannot have issued a grant) is reported as received
	// without moving credits.
	recorded, err := s.billingRepo.RecordBillingEvent(ctx, ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to record billing event")
		return &WebhookOutcome{Received: true}, nil
	}
	if !recorded {
		s.logger.Info().Str("event_id", eventID).Str("user_id", userID).Msg("Duplicate billing event, grant already applied")
		return &WebhookOutcome{Received: true}, nil
	}

	if err := s.billingRepo.AddCredits(ctx, userID, totalCredits); err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Str("user_id", userID).Int64("credits", totalCredits).Msg("Failed to add credits after recording event")
		return &WebhookOutcome{Received: true}, nil
	}

	grant := &model.CreditGrant{
		UserID:         userID,
		Source:         model.GrantSourcePaddle,
		SourceID:       eventID,
		CreditsGranted: totalCredits,
		TransactionID:  ev.TransactionID,
		PriceIDs:       priceIDs,
		EventID:        &eventID,
		EventType:      &event.EventType,
		Raw:            rawBody,
	}
	if _, err := s.grantRepo.UpsertCreditGrant(ctx, grant); err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to record credit grant provenance")
	}

	s.logger.Info().Str("event_id", eventID).Str("user_id", userID).Int64("credits", totalCredits).Strs("price_ids", priceIDs).Msg("Credits granted for billing event")
	return &WebhookOutcome{Received: true, Granted: totalCredits}, nil
}

// extractTransaction reads data.transaction, or data itself when it already
// looks like a transaction (has items).
func extractTransaction(data json.RawMessage) (*paddleTransaction, error) {
	var wrapper struct {
		Transaction *paddleTransaction `json:"transaction"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Transaction != nil {
		return wrapper.Transaction, nil
	}

	var txn paddleTransaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("event data is not a transaction")
	}
	if txn.Items == nil {
		return nil, fmt.Errorf("event data carries no transaction")
	}
	return &txn, nil
}

func customDataUserID(customData map[string]interface{}) string {
	if customData == nil {
		return ""
	}
	if s, ok := customData["supabase_user_id"].(string); ok && s != "" {
		return s
	}
	if s, ok := customData["user_id"].(string); ok && s != "" {
		return s
	}
	return ""
}

// computeCredits maps item price ids through the plan catalog with a single
// batched read. Items without a price id are skipped; catalog misses count as
// zero credits.
func (s *paddleService) computeCredits(ctx context.Context, items []paddleItem) ([]string, int64, error) {
	var priceIDs []string
	for _, item := range items {
		if id := itemPriceID(item); id != "" {
			priceIDs = append(priceIDs, id)
		}
	}
	if len(priceIDs) == 0 {
		return nil, 0, nil
	}

	plans, err := s.billingRepo.GetPlansByPriceIDs(ctx, priceIDs)
	if err != nil {
		return nil, 0, err
	}
	priceToCredits := make(map[string]int64, len(plans))
	for _, p := range plans {
		priceToCredits[p.PaddlePriceID] = p.Credits
	}

	var total int64
	for _, item := range items {
		id := itemPriceID(item)
		if id == "" {
			continue
		}
		total += priceToCredits[id] * itemQuantity(item)
	}
	return priceIDs, total, nil
}

func itemPriceID(item paddleItem) string {
	if item.PriceID != "" {
		return item.PriceID
	}
	if item.Price != nil {
		return item.Price.ID
	}
	return ""
}

// itemQuantity coerces the provider's quantity to an int, defaulting to 1 on
// non-numeric values and clamping to a minimum of 1.
func itemQuantity(item paddleItem) int64 {
	if len(item.Quantity) == 0 {
		return 1
	}
	var n float64
	if err := json.Unmarshal(item.Quantity, &n); err != nil {
		var s string
		if err := json.Unmarshal(item.Quantity, &s); err != nil {
			return 1
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 1
		}
		n = parsed
	}
	q := int64(n)
	if q < 1 {
		return 1
	}
	return q
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
