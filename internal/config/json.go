package config

import (
	"encoding/json"
	"os"

	"github.com/quiverhq/quiver/internal/flagx"
	"github.com/quiverhq/quiver/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations can
// be given either as strings like "10s" or as integer nanoseconds
// (timex.Duration). Absent fields leave the defaults in place.
type JsonConfig struct {
	ServerEndpointAddr *string         `json:"server_endpoint_addr"`
	DatabasePath       *string         `json:"database_path"`
	SyncEnabled        *bool           `json:"sync_enabled"`
	FullPullInterval   *timex.Duration `json:"full_pull_interval"`
	QueueDebounce      *timex.Duration `json:"queue_debounce"`
	PushDebounce       *timex.Duration `json:"push_debounce"`
	StartPullDelay     *timex.Duration `json:"start_pull_delay"`
	StartPushDelay     *timex.Duration `json:"start_push_delay"`
	LogTailSize        *int            `json:"log_tail_size"`
}

// parseJson overlays cfg with values from the JSON file named by -c/-config.
// When no file is given the function is a no-op. Read or parse failures
// panic, matching flag-parse behavior: a broken config file should stop the
// process immediately.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	applyJson(cfg, data)
}

func applyJson(cfg *Config, data []byte) {
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *jc.ServerEndpointAddr
	}
	if jc.DatabasePath != nil {
		cfg.DatabasePath = *jc.DatabasePath
	}
	if jc.SyncEnabled != nil {
		cfg.SyncEnabled = *jc.SyncEnabled
	}
	if jc.FullPullInterval != nil {
		cfg.FullPullInterval = jc.FullPullInterval.Duration
	}
	if jc.QueueDebounce != nil {
		cfg.QueueDebounce = jc.QueueDebounce.Duration
	}
	if jc.PushDebounce != nil {
		cfg.PushDebounce = jc.PushDebounce.Duration
	}
	if jc.StartPullDelay != nil {
		cfg.StartPullDelay = jc.StartPullDelay.Duration
	}
	if jc.StartPushDelay != nil {
		cfg.StartPushDelay = jc.StartPushDelay.Duration
	}
	if jc.LogTailSize != nil {
		cfg.LogTailSize = *jc.LogTailSize
	}
}
