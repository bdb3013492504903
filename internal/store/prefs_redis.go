package store

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// RecentLimit is how many documents the recent list remembers.
const RecentLimit = 12

// Prefs are the reader settings that survive restarts.
type Prefs struct {
	Mode      string `json:"mode"`
	Direction string `json:"direction"`
	PadStart  bool   `json:"pad_start"`
	ZoomMode  string `json:"zoom_mode"`
}

// ReaderStore persists reader preferences, per-document progress and the
// recent document list.
type ReaderStore struct {
	client *redis.Client
	keyNS  string
}

func NewReaderStore(client *redis.Client, keyNS string) *ReaderStore {
	if keyNS == "" {
		keyNS = "spreadview"
	}
	return &ReaderStore{client: client, keyNS: keyNS}
}

func (s *ReaderStore) prefsKey() string    { return s.keyNS + ":prefs" }
func (s *ReaderStore) progressKey() string { return s.keyNS + ":progress" }
func (s *ReaderStore) recentKey() string   { return s.keyNS + ":recent" }

func (s *ReaderStore) SavePrefs(ctx context.Context, p Prefs) error {
	m := map[string]interface{}{
		"mode":      p.Mode,
		"direction": p.Direction,
		"pad_start": strconv.FormatBool(p.PadStart),
		"zoom_mode": p.ZoomMode,
	}
	return s.client.HSet(ctx, s.prefsKey(), m).Err()
}

// LoadPrefs reports false when nothing was saved yet.
func (s *ReaderStore) LoadPrefs(ctx context.Context) (Prefs, bool, error) {
	res, err := s.client.HGetAll(ctx, s.prefsKey()).Result()
	if err != nil {
		return Prefs{}, false, err
	}
	if len(res) == 0 {
		return Prefs{}, false, nil
	}
	return prefsFromHash(res), true, nil
}

func prefsFromHash(m map[string]string) Prefs {
	pad, _ := strconv.ParseBool(m["pad_start"])
	return Prefs{Mode: m["mode"], Direction: m["direction"], PadStart: pad, ZoomMode: m["zoom_mode"]}
}

// SaveProgress records the last page viewed for ref.
func (s *ReaderStore) SaveProgress(ctx context.Context, ref string, page int) error {
	return s.client.HSet(ctx, s.progressKey(), ref, page).Err()
}

// Progress returns the saved page for ref, or -1.
func (s *ReaderStore) Progress(ctx context.Context, ref string) (int, error) {
	v, err := s.client.HGet(ctx, s.progressKey(), ref).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	page, err := strconv.Atoi(v)
	if err != nil {
		return -1, fmt.Errorf("bad progress for %s: %w", ref, err)
	}
	return page, nil
}

// TouchRecent moves ref to the front of the recent list.
func (s *ReaderStore) TouchRecent(ctx context.Context, ref string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, s.recentKey(), 0, ref)
		p.LPush(ctx, s.recentKey(), ref)
		p.LTrim(ctx, s.recentKey(), 0, RecentLimit-1)
		return nil
	})
	return err
}

func (s *ReaderStore) Recent(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, s.recentKey(), 0, RecentLimit-1).Result()
}

func (s *ReaderStore) ClearRecent(ctx context.Context) error {
	return s.client.Del(ctx, s.recentKey()).Err()
}
