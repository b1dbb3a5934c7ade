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

const tiktokPublishURL = "https://open.tiktokapis.com/v2/post/publish/video/init/"

type tiktokOptions struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableDuet    bool   `json:"disable_duet"`
	DisableComment bool   `json:"disable_comment"`
	DisableStitch  bool   `json:"disable_stitch"`
}

type TiktokService struct {
	client *http.Client
}

func NewTiktokService() *TiktokService {
	return &TiktokService{client: &http.Client{Timeout: 2 * time.Minute}}
}

func (s *TiktokService) Platform() string { return "tiktok" }

// Publish initializes a PULL_FROM_URL video post; TikTok fetches the media
// itself, so only the creative URL crosses the wire.
func (s *TiktokService) Publish(ctx context.Context, ownerID int64, mediaURL, caption string, options json.RawMessage, creds Credentials) (*transfer.PublishResult, error) {
	accessToken := creds["access_token"]
	if accessToken == "" {
		return nil, NewPublishError(s.Platform(), false, errors.New("missing access token"))
	}

	var opts tiktokOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, NewPublishError(s.Platform(), false, fmt.Errorf("invalid options: %w", err))
		}
	}
	if opts.PrivacyLevel == "" {
		opts.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	}
	title := opts.Title
	if title == "" {
		title = caption
	}

	uploadRequest := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 title,
			PrivacyLevel:          opts.PrivacyLevel,
			DisableDuet:           opts.DisableDuet,
			DisableComment:        opts.DisableComment,
			DisableStitch:         opts.DisableStitch,
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: mediaURL,
		},
	}

	jsonData, err := json.Marshal(uploadRequest)
	if err != nil {
		return nil, NewPublishError(s.Platform(), false, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tiktokPublishURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewPublishError(s.Platform(), false, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, NewPublishError(s.Platform(), true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewPublishError(s.Platform(), classifyStatus(resp.StatusCode),
			fmt.Errorf("tiktok publish endpoint returned status %d", resp.StatusCode))
	}

	var uploadResponse transfer.TikTokUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResponse); err != nil {
		slog.Info(err.Error())
		return nil, NewPublishError(s.Platform(), true, err)
	}

	if uploadResponse.Data.PublishID == "" {
		return nil, NewPublishError(s.Platform(), false,
			fmt.Errorf("tiktok rejected publish: %s", uploadResponse.Error.Message))
	}

	return &transfer.PublishResult{
		ExternalID: uploadResponse.Data.PublishID,
		Status:     "published",
	}, nil
}
