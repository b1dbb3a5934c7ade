package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crosspilot/crosspilot/internal/transfer"
)

const linkedinPostsURL = "https://api.linkedin.com/rest/posts"

type linkedinOptions struct {
	Visibility string `json:"visibility"`
}

type LinkedinService struct {
	client *http.Client
}

func NewLinkedinService() *LinkedinService {
	return &LinkedinService{client: &http.Client{Timeout: 2 * time.Minute}}
}

func (s *LinkedinService) Platform() string { return "linkedin" }

func (s *LinkedinService) Publish(ctx context.Context, ownerID int64, mediaURL, caption string, options json.RawMessage, creds Credentials) (*transfer.PublishResult, error) {
	accessToken := creds["access_token"]
	authorURN := creds["author_urn"]
	if accessToken == "" || authorURN == "" {
		return nil, NewPublishError(s.Platform(), false, errors.New("missing access token or author urn"))
	}

	var opts linkedinOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, NewPublishError(s.Platform(), false, fmt.Errorf("invalid options: %w", err))
		}
	}
	if opts.Visibility == "" {
		opts.Visibility = "PUBLIC"
	}

	payload := map[string]interface{}{
		"author":     authorURN,
		"commentary": caption,
		"visibility": opts.Visibility,
		"distribution": map[string]interface{}{
			"feedDistribution": "MAIN_FEED",
		},
		"content": map[string]interface{}{
			"article": map[string]interface{}{
				"source": mediaURL,
			},
		},
		"lifecycleState": "PUBLISHED",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewPublishError(s.Platform(), false, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", linkedinPostsURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, NewPublishError(s.Platform(), false, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", "202409")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, NewPublishError(s.Platform(), true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, NewPublishError(s.Platform(), classifyStatus(resp.StatusCode),
			fmt.Errorf("linkedin posts endpoint returned status %d", resp.StatusCode))
	}

	// LinkedIn returns the new post URN in a header, with the body often empty.
	externalID := resp.Header.Get("x-restli-id")
	if externalID == "" {
		var result transfer.LinkedinPostResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
			externalID = result.ID
		}
	}
	if externalID == "" {
		return nil, NewPublishError(s.Platform(), false, errors.New("no post id returned from LinkedIn"))
	}

	return &transfer.PublishResult{ExternalID: externalID, Status: "published"}, nil
}
