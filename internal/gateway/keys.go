// Package gateway implements the proxy data plane supports: inbound
// key resolution and channel/model routing with round-robin upstream
// credentials.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/models"
)

var (
	// ErrNoKey means the request carried no recognizable credential.
	ErrNoKey = errors.New("missing api key")
	// ErrUnknownKey means the credential matched no enabled proxy key.
	ErrUnknownKey = errors.New("unknown api key")
)

// ExtractKey pulls the client credential from the request, checking
// the header conventions of each upstream dialect in order.
func ExtractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return strings.TrimSpace(key)
	}
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(r.URL.Query().Get("key"))
}

// KeyService resolves inbound credentials to proxy keys.
type KeyService struct {
	db      *gorm.DB
	builtin string
}

// NewKeyService constructs a KeyService. builtin is the operator key
// that bypasses the proxy key table with full access.
func NewKeyService(db *gorm.DB, builtin string) *KeyService {
	return &KeyService{db: db, builtin: builtin}
}

// Resolve validates a raw credential. The builtin key yields a
// synthetic allow-all key; database keys must be enabled. Usage
// bookkeeping is updated out of band and never blocks the request.
func (s *KeyService) Resolve(ctx context.Context, raw string) (*models.ProxyKey, error) {
	if raw == "" {
		return nil, ErrNoKey
	}
	if s.builtin != "" && raw == s.builtin {
		return &models.ProxyKey{Name: "builtin", AllowAllModels: true, Enabled: true}, nil
	}
	var key models.ProxyKey
	err := s.db.WithContext(ctx).Where("key = ? AND enabled = ?", raw, true).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, err
	}
	go s.touch(key.ID)
	return &key, nil
}

// touch bumps usage counters for a key in the background.
func (s *KeyService) touch(keyID uint64) {
	now := time.Now()
	err := s.db.Model(&models.ProxyKey{}).Where("id = ?", keyID).
		UpdateColumns(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": &now,
		}).Error
	if err != nil {
		log.WithError(err).WithField("key", keyID).Debug("proxy key usage update failed")
	}
}
