package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/spreadview/internal/raster"
)

// DefaultRasterTTL bounds how long a raw page raster stays shared.
const DefaultRasterTTL = 30 * time.Minute

// PageStore keeps raw page rasters in redis hashes (w, h, zstd pix) so
// sessions viewing the same document share decoder work.
type PageStore struct {
	client *redis.Client
	ttl    time.Duration
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

func NewPageStore(client *redis.Client, ttl time.Duration) (*PageStore, error) {
	if ttl <= 0 {
		ttl = DefaultRasterTTL
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &PageStore{client: client, ttl: ttl, enc: enc, dec: dec}, nil
}

func (s *PageStore) Close() {
	s.enc.Close()
	s.dec.Close()
}

// GetRaster returns (nil, nil) when key is absent.
func (s *PageStore) GetRaster(ctx context.Context, key string) (*raster.Raster, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return s.decode(res)
}

func (s *PageStore) PutRaster(ctx context.Context, key string, r *raster.Raster) error {
	if !r.Valid() {
		return fmt.Errorf("refusing to store invalid raster %dx%d", r.W, r.H)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, s.encode(r))
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *PageStore) encode(r *raster.Raster) map[string]interface{} {
	return map[string]interface{}{
		"w":   r.W,
		"h":   r.H,
		"pix": s.enc.EncodeAll(r.Pix, nil),
	}
}

func (s *PageStore) decode(m map[string]string) (*raster.Raster, error) {
	w, err := strconv.Atoi(m["w"])
	if err != nil {
		return nil, fmt.Errorf("bad raster width: %w", err)
	}
	h, err := strconv.Atoi(m["h"])
	if err != nil {
		return nil, fmt.Errorf("bad raster height: %w", err)
	}
	pix, err := s.dec.DecodeAll([]byte(m["pix"]), nil)
	if err != nil {
		return nil, fmt.Errorf("bad raster payload: %w", err)
	}
	r := &raster.Raster{W: w, H: h, Pix: pix}
	if !r.Valid() {
		return nil, fmt.Errorf("raster payload is %d bytes, want %d", len(pix), w*h*3)
	}
	return r, nil
}
