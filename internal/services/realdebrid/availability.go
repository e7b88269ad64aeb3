// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/seerrlite/internal/models"
)

const maxHashesPerCall = 100

type rdFile struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// CheckAvailability reports the cached files for every hash. The result always
// holds one entry per distinct, lower-cased input hash; failures leave them empty.
func (c *Client) CheckAvailability(ctx context.Context, hashes []string) map[string]models.AvailabilityRecord {
	unique := make([]string, 0, len(hashes))
	result := make(map[string]models.AvailabilityRecord, len(hashes))
	for _, hash := range hashes {
		hash = strings.ToLower(strings.TrimSpace(hash))
		if hash == "" {
			continue
		}
		if _, seen := result[hash]; seen {
			continue
		}
		result[hash] = models.AvailabilityRecord{}
		unique = append(unique, hash)
	}

	for start := 0; start < len(unique); start += maxHashesPerCall {
		end := min(start+maxHashesPerCall, len(unique))
		for hash, record := range c.checkBatch(ctx, unique[start:end]) {
			if _, wanted := result[hash]; wanted {
				result[hash] = record
			}
		}
	}

	return result
}

func (c *Client) checkBatch(ctx context.Context, hashes []string) map[string]models.AvailabilityRecord {
	resp, err := c.do(ctx, http.MethodGet, "/torrents/instantAvailability/"+strings.Join(hashes, "/"), nil, "")
	if err != nil {
		c.logger.Error().Err(err).Int("hashes", len(hashes)).Msg("instant availability request failed")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Msg("instant availability returned unexpected status")
		return nil
	}

	records, err := normalizeAvailability(resp.Body)
	if err != nil {
		c.logger.Error().Err(err).Msg("unexpected instant availability response")
		return nil
	}
	return records
}

type hostVariants struct {
	RD []json.RawMessage `json:"rd"`
}

// normalizeAvailability flattens the instant availability payload into one record per
// hash. Real-Debrid answers with an object keyed by hash, where each value holds a
// list of file variants under "rd". Empty hosts come back as lists instead of objects.
func normalizeAvailability(body []byte) (map[string]models.AvailabilityRecord, error) {
	if !json.Valid(body) {
		return nil, errors.New("instant availability body is not valid JSON")
	}

	var byHash map[string]json.RawMessage
	if err := json.Unmarshal(body, &byHash); err != nil {
		// valid JSON that is not an object carries nothing
		return map[string]models.AvailabilityRecord{}, nil
	}

	out := make(map[string]models.AvailabilityRecord, len(byHash))
	for hash, raw := range byHash {
		record := models.AvailabilityRecord{}
		var hosts hostVariants
		if err := json.Unmarshal(raw, &hosts); err == nil {
			for _, variant := range hosts.RD {
				collectFiles(record, variant)
			}
		}
		out[strings.ToLower(hash)] = record
	}
	return out, nil
}

func collectFiles(record models.AvailabilityRecord, variant json.RawMessage) {
	var files map[string]rdFile
	if err := json.Unmarshal(variant, &files); err == nil {
		for key, file := range files {
			addFile(record, key, file)
		}
		return
	}

	// decode entry by entry so one malformed file does not drop the variant
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(variant, &entries); err != nil {
		return
	}
	for key, value := range entries {
		var file rdFile
		if err := json.Unmarshal(value, &file); err != nil {
			continue
		}
		addFile(record, key, file)
	}
}

func addFile(record models.AvailabilityRecord, key string, file rdFile) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return
	}
	record[id] = models.AvailableFile{Name: file.Filename, Size: file.Filesize}
}
