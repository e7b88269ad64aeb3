// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"

	"github.com/autobrr/seerrlite/internal/models"
)

const formContentType = "application/x-www-form-urlencoded"

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type torrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type torrentInfo struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Status   string        `json:"status"`
	Files    []torrentFile `json:"files"`
}

var videoExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".m4v": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".ts": {}, ".m2ts": {}, ".mts": {}, ".webm": {}, ".mpg": {}, ".mpeg": {},
	".flv": {}, ".vob": {}, ".ogv": {},
}

func isVideo(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	if _, ok := videoExtensions[ext]; ok {
		return true
	}
	return strings.HasPrefix(mime.TypeByExtension(ext), "video/")
}

// Magnet builds the magnet link submitted for a release.
func Magnet(hash, name string) (string, error) {
	var infoHash metainfo.Hash
	if err := infoHash.FromHexString(strings.ToLower(hash)); err != nil {
		return "", errors.Wrapf(err, "invalid info hash %q", hash)
	}
	return metainfo.Magnet{InfoHash: infoHash, DisplayName: name}.String(), nil
}

// Commit adds the release to Real-Debrid and selects the files to download.
// Movies select the file at fileIndex; series select every video file.
func (c *Client) Commit(ctx context.Context, hash, name string, fileIndex int, kind models.MediaKind) models.CommitResult {
	logger := c.logger.With().Str("hash", hash).Str("kind", kind.String()).Logger()

	magnet, err := Magnet(hash, name)
	if err != nil {
		return failed("", err.Error())
	}

	form := url.Values{"magnet": {magnet}}
	resp, err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", []byte(form.Encode()), formContentType)
	if err != nil {
		logger.Error().Err(err).Msg("add magnet failed")
		return failed("", "add magnet: "+err.Error())
	}
	if resp.StatusCode != http.StatusCreated {
		logger.Error().Int("status", resp.StatusCode).Msg("add magnet returned unexpected status")
		return failed("", fmt.Sprintf("add magnet returned status %d", resp.StatusCode))
	}

	var added addMagnetResponse
	if err := resp.JSON(&added); err != nil || added.ID == "" {
		logger.Error().Err(err).Msg("torrent id missing from add magnet response")
		return failed("", "torrent added, but torrent id not found")
	}
	logger.Info().Str("torrentId", added.ID).Msg("torrent added to real-debrid")

	files, err := c.torrentFiles(ctx, added.ID)
	if err != nil {
		logger.Error().Err(err).Str("torrentId", added.ID).Msg("could not fetch torrent files")
		return failed(added.ID, err.Error())
	}

	selection, err := selectFiles(files, fileIndex, kind)
	if err != nil {
		logger.Error().Err(err).Str("torrentId", added.ID).Int("files", len(files)).Msg("no files to select")
		return failed(added.ID, err.Error())
	}

	form = url.Values{"files": {strings.Join(selection, ",")}}
	resp, err = c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(added.ID), []byte(form.Encode()), formContentType)
	if err != nil {
		logger.Error().Err(err).Str("torrentId", added.ID).Msg("select files failed")
		return failed(added.ID, "select files: "+err.Error())
	}
	if resp.StatusCode != http.StatusNoContent {
		logger.Error().Int("status", resp.StatusCode).Str("torrentId", added.ID).Msg("select files returned unexpected status")
		return failed(added.ID, fmt.Sprintf("select files returned status %d", resp.StatusCode))
	}

	logger.Info().Str("torrentId", added.ID).Strs("files", selection).Msg("files selected")
	return models.CommitResult{Success: true, TorrentID: added.ID, Message: "Torrent added and files selected"}
}

func (c *Client) torrentFiles(ctx context.Context, torrentID string) ([]torrentFile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(torrentID), nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "torrent info")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("torrent info returned status %d", resp.StatusCode)
	}
	var info torrentInfo
	if err := resp.JSON(&info); err != nil {
		return nil, errors.Wrap(err, "torrent info")
	}
	return info.Files, nil
}

func selectFiles(files []torrentFile, fileIndex int, kind models.MediaKind) ([]string, error) {
	switch kind {
	case models.MediaKindMovie:
		if fileIndex < 0 || fileIndex >= len(files) {
			return nil, errors.Errorf("file index %d is out of range (%d files)", fileIndex, len(files))
		}
		return []string{strconv.Itoa(files[fileIndex].ID)}, nil
	case models.MediaKindSeries:
		var ids []string
		for _, file := range files {
			if isVideo(file.Path) {
				ids = append(ids, strconv.Itoa(file.ID))
			}
		}
		if len(ids) == 0 {
			return nil, errors.Errorf("no playable files among %d files", len(files))
		}
		return ids, nil
	default:
		return nil, errors.Errorf("unknown media type %q", kind)
	}
}

func failed(torrentID, message string) models.CommitResult {
	return models.CommitResult{Success: false, TorrentID: torrentID, Message: message}
}
