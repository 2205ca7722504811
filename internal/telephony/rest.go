package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRestBaseURL = "https://api.twilio.com"

// RestClient calls the Twilio REST API for the two operations a live call
// needs: redirecting an in-progress call and sending SMS.
type RestClient struct {
	accountSID          string
	authToken           string
	messagingServiceSID string
	baseURL             string
	httpClient          *http.Client
}

// RestOption is a functional option for [NewRestClient].
type RestOption func(*RestClient)

// WithRestBaseURL overrides the API endpoint. Used in tests.
func WithRestBaseURL(url string) RestOption {
	return func(c *RestClient) { c.baseURL = url }
}

// WithRestHTTPClient replaces the HTTP client.
func WithRestHTTPClient(hc *http.Client) RestOption {
	return func(c *RestClient) { c.httpClient = hc }
}

// NewRestClient builds a client authenticating as accountSID. Messages are
// sent through messagingServiceSID.
func NewRestClient(accountSID, authToken, messagingServiceSID string, opts ...RestOption) *RestClient {
	c := &RestClient{
		accountSID:          accountSID,
		authToken:           authToken,
		messagingServiceSID: messagingServiceSID,
		baseURL:             defaultRestBaseURL,
		httpClient:          &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Redirect replaces the running TwiML of the call identified by callSID,
// typically with a [DialTwiML] document to hand the caller to the manager.
func (c *RestClient) Redirect(ctx context.Context, callSID, twiml string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))
	form := url.Values{"Twiml": {twiml}}
	if err := c.postForm(ctx, endpoint, form); err != nil {
		return fmt.Errorf("telephony: redirect call %s: %w", callSID, err)
	}
	return nil
}

// SendMessage sends an SMS to the given number through the configured
// messaging service.
func (c *RestClient) SendMessage(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		c.baseURL, url.PathEscape(c.accountSID))
	form := url.Values{
		"MessagingServiceSid": {c.messagingServiceSID},
		"To":                  {to},
		"Body":                {body},
	}
	if err := c.postForm(ctx, endpoint, form); err != nil {
		return fmt.Errorf("telephony: send message to %s: %w", to, err)
	}
	return nil
}

func (c *RestClient) postForm(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
