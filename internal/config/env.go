package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "DRAWBOT_"

// applyEnv overlays DRAWBOT_* variables onto cfg. Secrets usually arrive
// this way (from the process environment or a .env file).
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TELEGRAM_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("OWNER_USER_IDS"); ok {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%sOWNER_USER_IDS: %w", EnvPrefix, err)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	if v, ok := get("GROUP_LOG"); ok {
		cfg.Telegram.GroupLog = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = v
	}
	if v, ok := get("STORAGE_DIR"); ok {
		cfg.Storage.Dir = v
	}
	if v, ok := get("STORAGE_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := get("PPROF_TOKEN"); ok {
		cfg.Pprof.Token = v
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}

// ParseChatID parses a numeric chat id such as "-1001234567890".
func ParseChatID(path, raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid chat id %q", path, raw)
	}
	return id, nil
}
