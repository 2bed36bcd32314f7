package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"path/filepath"

	"go.uber.org/zap"
)

// UploadMessagePhoto uploads an image for use as a message attachment:
// photos.getMessagesUploadServer, a multipart POST to the returned URL, then
// photos.saveMessagesPhoto.
func (c *Client) UploadMessagePhoto(ctx context.Context, filename string, data []byte) (*SavedPhoto, error) {
	raw, err := c.Call(ctx, "photos.getMessagesUploadServer", url.Values{})
	if err != nil {
		return nil, err
	}
	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(raw, &server); err != nil || server.UploadURL == "" {
		return nil, fmt.Errorf("vk: photos.getMessagesUploadServer: %w: no upload_url", ErrMalformed)
	}

	if filename == "" {
		filename = "image.jpg"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("vk: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("vk: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("vk: build upload: %w", err)
	}

	c.logger.Debug("uploading photo", zap.String("filename", filename), zap.Int("bytes", len(data)))
	uploaded, err := c.post(ctx, server.UploadURL, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("vk: photo upload: %w", err)
	}
	var up struct {
		Server json.Number `json:"server"`
		Photo  string      `json:"photo"`
		Hash   string      `json:"hash"`
	}
	if err := json.Unmarshal(uploaded, &up); err != nil || up.Photo == "" || up.Hash == "" {
		return nil, fmt.Errorf("vk: photo upload: %w: %s", ErrMalformed, uploaded)
	}

	raw, err = c.Call(ctx, "photos.saveMessagesPhoto", url.Values{
		"server": {up.Server.String()},
		"photo":  {up.Photo},
		"hash":   {up.Hash},
	})
	if err != nil {
		return nil, err
	}
	return DecodeSavedPhoto(raw)
}

// DecodeSavedPhoto validates a photos.saveMessagesPhoto reply and returns its
// first element.
func DecodeSavedPhoto(raw json.RawMessage) (*SavedPhoto, error) {
	items, err := DecodeArray(raw)
	if err != nil {
		return nil, fmt.Errorf("vk: photos.saveMessagesPhoto: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("vk: photos.saveMessagesPhoto: %w: empty result", ErrMalformed)
	}
	var photo SavedPhoto
	if err := json.Unmarshal(items[0], &photo); err != nil || photo.ID == nil || photo.OwnerID == nil {
		return nil, fmt.Errorf("vk: photos.saveMessagesPhoto: %w: missing owner_id or id", ErrMalformed)
	}
	return &photo, nil
}
