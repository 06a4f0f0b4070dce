// Package notify delivers run events to Discord-compatible webhooks. All
// delivery is best-effort: a dead webhook never stalls or fails a run. One
// background sender paces requests so bursts of events do not trip the
// webhook rate limit.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxUploadBytes is the attachment ceiling, just under the 10 MB webhook
// limit.
const MaxUploadBytes = 10276044 // 9.8 MiB

const defaultPace = 300 * time.Millisecond

// Client is a paced webhook sender. Start launches the sender goroutine;
// Stop drains the queue and waits for it to exit.
type Client struct {
	// Pace is the minimum delay between deliveries. Set before Start.
	Pace time.Duration

	httpc *http.Client
	log   *zap.Logger

	jobs chan func()
	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	dashboardID string
}

// New returns a client. Call Start before enqueueing.
func New(log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Pace:  defaultPace,
		httpc: &http.Client{Timeout: 30 * time.Second},
		log:   log,
		jobs:  make(chan func(), 512),
		done:  make(chan struct{}),
	}
}

// Start launches the sender goroutine.
func (c *Client) Start() {
	go func() {
		defer close(c.done)
		for job := range c.jobs {
			job()
			time.Sleep(c.Pace)
		}
	}()
}

// Stop drains queued deliveries and waits for the sender to exit.
func (c *Client) Stop() {
	c.once.Do(func() { close(c.jobs) })
	<-c.done
}

// enqueue hands a delivery to the sender. A full queue drops the delivery
// rather than block the caller.
func (c *Client) enqueue(job func()) {
	select {
	case c.jobs <- job:
	default:
		c.log.Warn("webhook queue full, dropping event")
	}
}

// SendEvent posts a plain content message.
func (c *Client) SendEvent(webhookURL, content string) {
	if webhookURL == "" || content == "" {
		return
	}
	c.enqueue(func() {
		if err := c.postContent(webhookURL, content); err != nil {
			c.log.Warn("webhook event failed", zap.Error(err))
		}
	})
}

// SetDashboard creates the dashboard message on first call and edits it in
// place afterwards, so the channel shows one live-updating message.
func (c *Client) SetDashboard(webhookURL, content string) {
	if webhookURL == "" || content == "" {
		return
	}
	c.enqueue(func() {
		c.mu.Lock()
		id := c.dashboardID
		c.mu.Unlock()

		if id == "" {
			newID, err := c.createMessage(webhookURL, content)
			if err != nil {
				c.log.Warn("dashboard create failed", zap.Error(err))
				return
			}
			c.mu.Lock()
			c.dashboardID = newID
			c.mu.Unlock()
			return
		}

		status, err := c.editMessage(webhookURL, id, content)
		if err != nil {
			c.log.Warn("dashboard edit failed", zap.Error(err))
			return
		}
		// The message can be deleted out from under us; recreate next tick.
		if status == http.StatusNotFound {
			c.mu.Lock()
			c.dashboardID = ""
			c.mu.Unlock()
		}
	})
}

// SendFile uploads a local file as an attachment. Files over the webhook
// cap are rejected immediately so the caller can fall back.
func (c *Client) SendFile(webhookURL, path, comment string) error {
	if webhookURL == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > MaxUploadBytes {
		return fmt.Errorf("%s is %d bytes, over the %d byte upload cap", filepath.Base(path), info.Size(), MaxUploadBytes)
	}
	c.enqueue(func() {
		if err := c.uploadFile(webhookURL, path, comment); err != nil {
			c.log.Warn("webhook upload failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		}
	})
	return nil
}

func (c *Client) postContent(webhookURL, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	resp, err := c.httpc.Post(webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// createMessage posts with wait=true so the webhook returns the created
// message and its id.
func (c *Client) createMessage(webhookURL, content string) (string, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Post(webhookURL+"?wait=true", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&msg); err != nil {
		return "", err
	}
	if msg.ID == "" {
		return "", fmt.Errorf("webhook response had no message id")
	}
	return msg.ID, nil
}

func (c *Client) editMessage(webhookURL, id, content string) (int, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPatch, webhookURL+"/messages/"+id, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (c *Client) uploadFile(webhookURL, path, comment string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if comment != "" {
		payload, err := json.Marshal(map[string]string{"content": comment})
		if err != nil {
			return err
		}
		if err := w.WriteField("payload_json", string(payload)); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := c.httpc.Post(webhookURL, w.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
