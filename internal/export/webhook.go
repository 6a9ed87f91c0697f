// Package export pushes valuation reports to an external webhook in batches.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Config holds the webhook exporter settings
type Config struct {
	URL       string
	APIKey    string
	BatchSize int
	Interval  time.Duration
}

// Exporter buffers reports and posts them to the webhook when the batch is
// full, on every interval tick and on Stop.
type Exporter struct {
	config Config
	client *retryablehttp.Client
	log    logrus.FieldLogger

	mutex      sync.Mutex
	batch      []interface{}
	lastExport time.Time
	exported   int
	failures   int

	cancel  context.CancelFunc
	done    chan struct{}
	flushes sync.WaitGroup
}

// New starts an exporter. It returns nil when no URL is configured.
func New(config Config, log logrus.FieldLogger) *Exporter {
	if config.URL == "" {
		return nil
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		config: config,
		client: client,
		log:    log,
		batch:  make([]interface{}, 0, config.BatchSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go e.periodicExport(ctx)

	log.WithFields(logrus.Fields{
		"batch_size": config.BatchSize,
		"interval":   config.Interval,
	}).Info("Report exporter initialized")
	return e
}

// Add queues a report, flushing in the background once the batch is full.
func (e *Exporter) Add(report interface{}) {
	if e == nil {
		return
	}

	e.mutex.Lock()
	e.batch = append(e.batch, report)
	full := len(e.batch) >= e.config.BatchSize
	e.mutex.Unlock()

	if full {
		e.flushes.Add(1)
		go func() {
			defer e.flushes.Done()
			e.flush(context.Background())
		}()
	}
}

func (e *Exporter) periodicExport(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// flush posts the pending batch. A failed batch is dropped.
func (e *Exporter) flush(ctx context.Context) {
	e.mutex.Lock()
	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return
	}
	reports := e.batch
	e.batch = make([]interface{}, 0, e.config.BatchSize)
	e.mutex.Unlock()

	err := e.post(ctx, reports)

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if err != nil {
		e.failures++
		e.log.Errorf("Failed to export %d reports: %v", len(reports), err)
		return
	}
	e.exported += len(reports)
	e.lastExport = time.Now()
	e.log.Debugf("Exported %d reports", len(reports))
}

func (e *Exporter) post(ctx context.Context, reports []interface{}) error {
	body, err := json.Marshal(struct {
		Reports    []interface{} `json:"reports"`
		ExportTime string        `json:"export_time"`
		Count      int           `json:"count"`
	}{
		Reports:    reports,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(reports),
	})
	if err != nil {
		return fmt.Errorf("marshal reports: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Stop ends the periodic export and flushes what is left.
func (e *Exporter) Stop() {
	if e == nil {
		return
	}
	e.cancel()
	<-e.done
	e.flushes.Wait()
	e.flush(context.Background())
}

// Status reports the exporter counters
func (e *Exporter) Status() map[string]interface{} {
	if e == nil {
		return map[string]interface{}{"enabled": false}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	status := map[string]interface{}{
		"enabled":        true,
		"batch_size":     e.config.BatchSize,
		"interval":       e.config.Interval.String(),
		"pending":        len(e.batch),
		"exported":       e.exported,
		"failed_batches": e.failures,
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.UTC().Format(time.RFC3339)
	}
	return status
}
