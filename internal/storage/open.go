package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	logx "drawbot/pkg/logx"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Open validates schema and opens the configured backend. The file
// backend sweeps temp files left by an earlier crash before returning.
func Open(cfg Config, schema Schema, log logx.Logger) (Store, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("storage: empty schema")
	}
	for name, shape := range schema {
		if !collectionName.MatchString(name) {
			return nil, fmt.Errorf("storage: invalid collection name %q", name)
		}
		if shape != ShapeMap && shape != ShapeSequence {
			return nil, fmt.Errorf("storage: collection %q has unknown shape %q", name, shape)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var be backend
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		fb, err := openFileBackend(cfg.Dir, log)
		if err != nil {
			return nil, err
		}
		be = fb
	case "sqlite", "sqlite3":
		sb, err := openSQLiteBackend(cfg, log)
		if err != nil {
			return nil, err
		}
		be = sb
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}

	st := newStore(schema, be, log)
	if _, err := SweepTemp(context.Background(), st); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
