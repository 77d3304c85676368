package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/polls"
)

// AdminClient talks to the admin API. It is not safe for concurrent use
// while logging in; afterwards the token is read-only.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdminClient creates an admin client. Timeout defaults to 30 seconds.
func NewAdminClient(baseURL string, timeout ...time.Duration) *AdminClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &AdminClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// SetToken installs a previously obtained session token.
func (c *AdminClient) SetToken(token string) { c.token = token }

// Token returns the current session token, empty before login.
func (c *AdminClient) Token() string { return c.token }

func (c *AdminClient) do(method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed with code %d: %s", resp.StatusCode, string(msg))
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// Register creates a new admin account.
func (c *AdminClient) Register(tcNumber, email, phone string) (interfaces.Principal, error) {
	var admin interfaces.Principal
	err := c.do(http.MethodPost, "/api/admin/register", map[string]string{
		"tc_number": tcNumber,
		"email":     email,
		"phone":     phone,
	}, &admin)
	return admin, err
}

// LoginStart requests a passcode challenge for the admin.
func (c *AdminClient) LoginStart(tcNumber, email string) error {
	return c.do(http.MethodPost, "/api/admin/login/start", map[string]string{
		"tc_number": tcNumber,
		"email":     email,
	}, nil)
}

// LoginVerify exchanges the delivered passcodes for a session token and
// stores it on the client.
func (c *AdminClient) LoginVerify(tcNumber, email, emailCode, phoneCode string) error {
	var response struct {
		Token string `json:"token"`
	}
	err := c.do(http.MethodPost, "/api/admin/login/verify", map[string]string{
		"tc_number":  tcNumber,
		"email":      email,
		"email_code": emailCode,
		"phone_code": phoneCode,
	}, &response)
	if err != nil {
		return err
	}
	c.token = response.Token
	return nil
}

// CreatePoll creates a draft poll.
func (c *AdminClient) CreatePoll(title, description string) (interfaces.Poll, error) {
	var poll interfaces.Poll
	err := c.do(http.MethodPost, "/api/admin/polls", map[string]string{
		"title":       title,
		"description": description,
	}, &poll)
	return poll, err
}

// ListPolls returns all polls with roster sizes and ceremony flags.
func (c *AdminClient) ListPolls() ([]polls.Summary, error) {
	var summaries []polls.Summary
	err := c.do(http.MethodGet, "/api/admin/polls", nil, &summaries)
	return summaries, err
}

// PollDetails returns one poll's admin view.
func (c *AdminClient) PollDetails(pollID int64) (polls.Details, error) {
	var details polls.Details
	err := c.do(http.MethodGet, fmt.Sprintf("/api/admin/polls/%d", pollID), nil, &details)
	return details, err
}

// EnrollParticipants uploads participant CSVs. Either reader may be nil.
func (c *AdminClient) EnrollParticipants(pollID int64, votersCSV, authoritiesCSV io.Reader) (polls.EnrollResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if votersCSV != nil {
		part, err := writer.CreateFormFile("voters_file", "voters.csv")
		if err != nil {
			return polls.EnrollResult{}, err
		}
		if _, err := io.Copy(part, votersCSV); err != nil {
			return polls.EnrollResult{}, err
		}
	}
	if authoritiesCSV != nil {
		part, err := writer.CreateFormFile("authorities_file", "authorities.csv")
		if err != nil {
			return polls.EnrollResult{}, err
		}
		if _, err := io.Copy(part, authoritiesCSV); err != nil {
			return polls.EnrollResult{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return polls.EnrollResult{}, err
	}

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/api/admin/polls/%d/participants", c.baseURL, pollID), &buf)
	if err != nil {
		return polls.EnrollResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return polls.EnrollResult{}, fmt.Errorf("enrollment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return polls.EnrollResult{}, fmt.Errorf("enrollment failed with code %d: %s", resp.StatusCode, string(msg))
	}

	var result polls.EnrollResult
	err = json.NewDecoder(resp.Body).Decode(&result)
	return result, err
}

// TriggerSetup runs the Setup ceremony step.
func (c *AdminClient) TriggerSetup(pollID int64) (interfaces.PollSetup, error) {
	var setup interfaces.PollSetup
	err := c.do(http.MethodPost, fmt.Sprintf("/api/admin/polls/%d/setup", pollID), nil, &setup)
	return setup, err
}

// TriggerKeyGen runs the KeyGen ceremony step.
func (c *AdminClient) TriggerKeyGen(pollID int64) (interfaces.PollMvk, error) {
	var mvk interfaces.PollMvk
	err := c.do(http.MethodPost, fmt.Sprintf("/api/admin/polls/%d/keygen", pollID), nil, &mvk)
	return mvk, err
}
