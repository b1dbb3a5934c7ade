package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	config "github.com/crosspilot/crosspilot/configs"
	"github.com/crosspilot/crosspilot/internal/transfer"
)

type metaOptions struct {
	MediaKind string `json:"media_kind"` // image, video, reel
}

// MetaService publishes to Instagram/Facebook through the Graph API's
// two-step flow: create a media container, then publish it.
type MetaService struct {
	cfg    config.Config
	client *http.Client
}

func NewMetaService(cfg config.Config) *MetaService {
	return &MetaService{cfg: cfg, client: &http.Client{Timeout: 2 * time.Minute}}
}

func (s *MetaService) Platform() string { return "meta" }

func (s *MetaService) Publish(ctx context.Context, ownerID int64, mediaURL, caption string, options json.RawMessage, creds Credentials) (*transfer.PublishResult, error) {
	accessToken := creds["access_token"]
	accountID := creds["account_id"]
	if accessToken == "" || accountID == "" {
		return nil, NewPublishError(s.Platform(), false, errors.New("missing access token or account id"))
	}

	var opts metaOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, NewPublishError(s.Platform(), false, fmt.Errorf("invalid options: %w", err))
		}
	}

	containerID, err := s.createMediaContainer(ctx, accountID, mediaURL, caption, opts.MediaKind, accessToken)
	if err != nil {
		return nil, err
	}

	mediaID, err := s.publishContainer(ctx, accountID, containerID, accessToken)
	if err != nil {
		return nil, err
	}

	return &transfer.PublishResult{ExternalID: mediaID, Status: "published"}, nil
}

func (s *MetaService) createMediaContainer(ctx context.Context, accountID, mediaURL, caption, mediaKind, accessToken string) (string, error) {
	url := fmt.Sprintf("https://graph.instagram.com/%s/%s/media", s.cfg.MetaGraphVersion, accountID)

	payload := map[string]interface{}{
		"caption":      caption,
		"access_token": accessToken,
	}
	switch mediaKind {
	case "video", "reel":
		payload["media_type"] = "REELS"
		payload["video_url"] = mediaURL
	default:
		payload["image_url"] = mediaURL
	}

	result, err := s.graphCall(ctx, url, payload)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", NewPublishError(s.Platform(), false, errors.New("no media container id returned"))
	}
	return result.ID, nil
}

func (s *MetaService) publishContainer(ctx context.Context, accountID, containerID, accessToken string) (string, error) {
	url := fmt.Sprintf("https://graph.instagram.com/%s/%s/media_publish", s.cfg.MetaGraphVersion, accountID)

	payload := map[string]interface{}{
		"creation_id":  containerID,
		"access_token": accessToken,
	}

	result, err := s.graphCall(ctx, url, payload)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", NewPublishError(s.Platform(), false, errors.New("no media id returned from publish"))
	}
	return result.ID, nil
}

func (s *MetaService) graphCall(ctx context.Context, url string, payload map[string]interface{}) (*transfer.MetaMediaResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewPublishError(s.Platform(), false, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, NewPublishError(s.Platform(), false, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, NewPublishError(s.Platform(), true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewPublishError(s.Platform(), true, err)
	}

	if resp.StatusCode != http.StatusOK {
		var result transfer.MetaMediaResponse
		_ = json.Unmarshal(respBody, &result)
		msg := fmt.Sprintf("graph api returned status %d", resp.StatusCode)
		if result.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, result.Error.Message)
		}
		return nil, NewPublishError(s.Platform(), classifyStatus(resp.StatusCode), errors.New(msg))
	}

	var result transfer.MetaMediaResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, NewPublishError(s.Platform(), true, err)
	}
	return &result, nil
}
