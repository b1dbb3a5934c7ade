package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/crosspilot/crosspilot/internal/transfer"
)

type youtubeOptions struct {
	Title         string `json:"title"`
	PrivacyStatus string `json:"privacy_status"`
	CategoryID    string `json:"category_id"`
}

type YoutubeService struct{}

func NewYoutubeService() *YoutubeService {
	return &YoutubeService{}
}

func (s *YoutubeService) Platform() string { return "youtube" }

func (s *YoutubeService) Publish(ctx context.Context, ownerID int64, mediaURL, caption string, options json.RawMessage, creds Credentials) (*transfer.PublishResult, error) {
	accessToken := creds["access_token"]
	if accessToken == "" {
		return nil, NewPublishError(s.Platform(), false, errors.New("missing access token"))
	}

	var opts youtubeOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, NewPublishError(s.Platform(), false, fmt.Errorf("invalid options: %w", err))
		}
	}
	if opts.PrivacyStatus == "" {
		opts.PrivacyStatus = "public"
	}
	if opts.CategoryID == "" {
		opts.CategoryID = "22"
	}
	title := opts.Title
	if title == "" {
		title = caption
	}

	token := &oauth2.Token{AccessToken: accessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	yt, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		log.Printf("Error creating YouTube service: %v", err)
		return nil, NewPublishError(s.Platform(), true, err)
	}

	// YouTube has no pull-from-url upload; stage the creative locally first.
	tempFile, err := downloadVideo(ctx, mediaURL)
	if err != nil {
		return nil, NewPublishError(s.Platform(), true, err)
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, NewPublishError(s.Platform(), true, err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Description: caption,
			Title:       title,
			CategoryId:  opts.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: opts.PrivacyStatus,
		},
	}

	call := yt.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Do()
	if err != nil {
		log.Printf("Error uploading video: %v", err)
		retryable := true
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			retryable = classifyStatus(gerr.Code)
		}
		return nil, NewPublishError(s.Platform(), retryable, err)
	}

	return &transfer.PublishResult{ExternalID: response.Id, Status: "published"}, nil
}

func downloadVideo(ctx context.Context, mediaURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", mediaURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("creative download returned status %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", "creative-*.mp4")
	if err != nil {
		return "", err
	}
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		os.Remove(tempFile.Name())
		return "", err
	}

	return tempFile.Name(), nil
}
