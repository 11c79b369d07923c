package schedulefile

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"go.yaml.in/yaml/v3"
)

// Entry is one schedule declared in the file.
type Entry struct {
	GuildID   string `yaml:"guild_id"`
	Name      string `yaml:"name"`
	Cron      string `yaml:"cron"`
	ChannelID string `yaml:"channel_id"`
	Message   string `yaml:"message"`
}

func (e Entry) key() string {
	return e.GuildID + "/" + strings.TrimSpace(e.Name)
}

type document struct {
	Schedules []Entry `yaml:"schedules"`
}

// Parse decodes a schedules document. Unknown fields and duplicate
// guild/name pairs are rejected.
func Parse(b []byte) ([]Entry, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode schedules: %v: %w", err, apperr.ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(doc.Schedules))
	for i, e := range doc.Schedules {
		if e.GuildID == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("schedule #%d: guild_id and name are required: %w", i+1, apperr.ErrInvalidInput)
		}
		if _, dup := seen[e.key()]; dup {
			return nil, fmt.Errorf("schedule %q declared twice for guild %s: %w", e.Name, e.GuildID, apperr.ErrInvalidInput)
		}
		seen[e.key()] = struct{}{}
	}
	return doc.Schedules, nil
}

func load(path string) ([]Entry, uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read schedules file: %w", err)
	}
	entries, err := Parse(b)
	if err != nil {
		return nil, 0, err
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return entries, h.Sum64(), nil
}
