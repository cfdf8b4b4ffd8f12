package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/pkg/util"
)

// TierChange payload delivered downstream for email/toast delivery.
type TierChange struct {
	UserID   string     `json:"userId"`
	OldTier  tier.Tier  `json:"oldTier"`
	NewTier  tier.Tier  `json:"newTier"`
	NewRates tier.Rates `json:"newRates"`
}

type Notifier interface {
	NotifyTierChange(ctx context.Context, change TierChange) error
}

// LogNotifier only records the change.
type LogNotifier struct{}

func (LogNotifier) NotifyTierChange(_ context.Context, change TierChange) error {
	log.WithFields(log.Fields{
		"user":     change.UserID,
		"old_tier": change.OldTier,
		"new_tier": change.NewTier,
	}).Info("membership tier changed")
	return nil
}

// HTTPNotifier posts the change as signed json.
type HTTPNotifier struct {
	url      string
	key      string
	attempts int
	client   *http.Client
}

func NewHTTPNotifier(url, key string) *HTTPNotifier {
	return &HTTPNotifier{
		url:      url,
		key:      key,
		attempts: 3,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *HTTPNotifier) NotifyTierChange(ctx context.Context, change TierChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return errors.Wrap(err, "json marshal")
	}
	return util.PostSigned(ctx, n.client, n.url, string(body), n.key, n.attempts)
}

// New picks the webhook sink when url is set.
func New(url, key string) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	return NewHTTPNotifier(url, key)
}
