// Package shipping forwards persisted audit records to secondary destinations
// (file, webhook) so they can reach a SIEM or log aggregator independently of
// the primary database. Shipping is strictly downstream of persistence: the
// database row is the system of record, shipped copies are best-effort, and a
// destination failure never reaches the code path that produced the record.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

// Shipper sends one record to a destination.
type Shipper interface {
	Ship(ctx context.Context, rec *models.ChangeRecord) error
	Close() error
}

// Config selects and configures the enabled destinations.
type Config struct {
	File    FileConfig    `mapstructure:"file"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// FileConfig configures the JSON-lines file destination.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// WebhookConfig configures the HTTP POST destination.
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// New builds a MultiShipper from config. Returns nil when no destination is
// enabled, which callers treat as "shipping off".
func New(cfg Config) (*MultiShipper, error) {
	ms := &MultiShipper{}

	if cfg.File.Enabled {
		fs, err := NewFileShipper(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("create file shipper: %w", err)
		}
		ms.add("file", fs)
	}
	if cfg.Webhook.Enabled {
		if cfg.Webhook.URL == "" {
			return nil, fmt.Errorf("webhook shipper requires a url")
		}
		ms.add("webhook", NewWebhookShipper(cfg.Webhook))
	}

	if len(ms.shippers) == 0 {
		return nil, nil
	}
	return ms, nil
}

type namedShipper struct {
	name    string
	shipper Shipper
}

// MultiShipper fans one record out to every enabled destination. A failing
// destination is counted and does not stop the others; Ship returns the last
// error for visibility.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []namedShipper
}

func (ms *MultiShipper) add(name string, s Shipper) {
	ms.shippers = append(ms.shippers, namedShipper{name: name, shipper: s})
}

// Ship sends the record to all destinations.
func (ms *MultiShipper) Ship(ctx context.Context, rec *models.ChangeRecord) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, ns := range ms.shippers {
		if err := ns.shipper.Ship(ctx, rec); err != nil {
			telemetry.ShippingErrorsTotal.WithLabelValues(ns.name).Inc()
			lastErr = fmt.Errorf("%s: %w", ns.name, err)
		}
	}
	return lastErr
}

// Close closes all destinations.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, ns := range ms.shippers {
		if err := ns.shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// wireRecord is the JSON shape shipped to destinations.
type wireRecord struct {
	ID       string    `json:"id"`
	ItemType *string   `json:"item_type,omitempty"`
	ItemKey  *string   `json:"item_key,omitempty"`
	Event    string    `json:"event"`
	IP       *string   `json:"ip,omitempty"`
	UserID   *string   `json:"user_id,omitempty"`
	Date     time.Time `json:"date"`
	Data     *string   `json:"data,omitempty"`
}

func toWire(rec *models.ChangeRecord) wireRecord {
	return wireRecord{
		ID:       rec.ID,
		ItemType: rec.ItemType,
		ItemKey:  rec.ItemKey,
		Event:    rec.Event,
		IP:       rec.IP,
		UserID:   rec.UserID,
		Date:     rec.Date,
		Data:     rec.Data,
	}
}

// FileShipper appends records to a JSON-lines file with size-based rotation.
type FileShipper struct {
	cfg  FileConfig
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the destination file.
func NewFileShipper(cfg FileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open shipping file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes one record as a JSON line.
func (fs *FileShipper) Ship(_ context.Context, rec *models.ChangeRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("rotate shipping file: %w", err)
			}
		}
	}

	data, err := json.Marshal(toWire(rec))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(
			fmt.Sprintf("%s.%d", fs.cfg.Path, i),
			fmt.Sprintf("%s.%d", fs.cfg.Path, i+1),
		)
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}

// WebhookShipper POSTs each record as JSON to a configured endpoint.
type WebhookShipper struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookShipper creates a WebhookShipper.
func NewWebhookShipper(cfg WebhookConfig) *WebhookShipper {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Ship POSTs one record.
func (ws *WebhookShipper) Ship(ctx context.Context, rec *models.ChangeRecord) error {
	data, err := json.Marshal(toWire(rec))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op for webhooks.
func (ws *WebhookShipper) Close() error { return nil }
