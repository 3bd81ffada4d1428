package stow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Config describes a STOW-RS endpoint.
type Config struct {
	// URL is the service root including the studies resource, for example
	// https://pacs.example.com/dicom-web/studies.
	URL      string
	Username string
	Password string
	APIKey   string
	Headers  map[string]string
	Timeout  time.Duration
}

// Client posts composite instances to a STOW-RS service.
type Client struct {
	client   *http.Client
	url      string
	username string
	password string
	apiKey   string
	headers  map[string]string
}

// NewClient creates a STOW-RS client for one endpoint.
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:   &http.Client{Timeout: timeout},
		url:      config.URL,
		username: config.Username,
		password: config.Password,
		apiKey:   config.APIKey,
		headers:  config.Headers,
	}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Upload posts the parts as one multipart/related request. The body streams,
// so parts of unknown size never get buffered whole.
func (c *Client) Upload(ctx context.Context, parts ...Payload) error {
	if len(parts) == 0 {
		return fmt.Errorf("no payload to upload")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for _, p := range parts {
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type": {"application/dicom"},
			})
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			rc, err := p.NewReader()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			_, err = io.Copy(part, rc)
			rc.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type",
		fmt.Sprintf(`multipart/related; type="application/dicom"; boundary=%s`, mw.Boundary()))
	req.Header.Set("Accept", "application/dicom+json")
	c.addAuth(req)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("STOW-RS returned status %d: %s", resp.StatusCode, string(body))
	}
	return checkStoreResponse(resp.Body)
}

// TestConnection verifies the endpoint answers HTTP at all. Any response
// short of a server error counts as reachable; STOW-RS endpoints commonly
// reject GET with 405.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)
	req.Header.Set("Accept", "application/dicom+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// failedSOPSequence is tag (0008,1198) in the STOW-RS store response.
const failedSOPSequence = "00081198"

// checkStoreResponse scans the application/dicom+json response for rejected
// instances. A 200/202 can still carry a FailedSOPSequence.
func checkStoreResponse(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		// An empty body on a success status is a plain accept.
		return nil
	}
	var response map[string]struct {
		Value []json.RawMessage `json:"Value"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		// Some servers answer with XML or plain text; the status code
		// already said the store was accepted.
		return nil
	}
	if failed, ok := response[failedSOPSequence]; ok && len(failed.Value) > 0 {
		return fmt.Errorf("server rejected %d instance(s)", len(failed.Value))
	}
	return nil
}
