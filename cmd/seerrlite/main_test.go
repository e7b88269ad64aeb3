// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/seerrlite/internal/domain"
	"github.com/autobrr/seerrlite/internal/models"
)

func TestServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		conf    domain.Config
		polling bool
		wantErr string
	}{
		{
			name:    "valid_modes",
			conf:    domain.Config{PushSelection: "early", PollSelection: "best", Workers: 5, QueueSize: 10, PollIntervalMinutes: 15},
			polling: true,
		},
		{
			name:    "invalid_push_selection",
			conf:    domain.Config{PushSelection: "random", PollSelection: "best"},
			polling: true,
			wantErr: "push selection",
		},
		{
			name:    "invalid_poll_selection",
			conf:    domain.Config{PushSelection: "early", PollSelection: ""},
			polling: true,
			wantErr: "poll selection",
		},
		{
			name:    "polling_disabled",
			conf:    domain.Config{PushSelection: "early", PollSelection: "best", PollIntervalMinutes: 15},
			polling: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := serviceConfig(&tt.conf, true, tt.polling)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, models.SelectionEarlyAccept, got.PushSelection)
			assert.Equal(t, models.SelectionBestOfBatch, got.PollSelection)
			assert.Equal(t, tt.conf.Workers, got.Workers)
			assert.Equal(t, tt.conf.QueueSize, got.QueueSize)
			if tt.polling {
				assert.True(t, got.StartupSync)
				assert.Equal(t, 15*time.Minute, got.PollInterval)
			} else {
				assert.False(t, got.StartupSync)
				assert.Zero(t, got.PollInterval)
			}
		})
	}
}
