package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SegmentCache 分割结果缓存
type SegmentCache interface {
	GetSegment(ctx context.Context, key string) (*SegmentResult, error)
	SetSegment(ctx context.Context, key string, result *SegmentResult) error
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

type cachedSegment struct {
	DataURI string `json:"data_uri"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	MD5     string `json:"md5"`
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetSegment 从缓存获取分割结果，未命中返回 nil
func (s *RedisService) GetSegment(ctx context.Context, key string) (*SegmentResult, error) {
	data, err := s.client.Get(ctx, "segment:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var cached cachedSegment
	if err := json.Unmarshal(data, &cached); err != nil {
		utils.Logger.Error("failed to unmarshal segment result",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return &SegmentResult{
		DataURI: cached.DataURI,
		Width:   cached.Width,
		Height:  cached.Height,
		MD5:     cached.MD5,
	}, nil
}

// SetSegment 设置分割结果到缓存
func (s *RedisService) SetSegment(ctx context.Context, key string, result *SegmentResult) error {
	data, err := json.Marshal(cachedSegment{
		DataURI: result.DataURI,
		Width:   result.Width,
		Height:  result.Height,
		MD5:     result.MD5,
	})
	if err != nil {
		return err
	}

	return s.client.Set(ctx, "segment:"+key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
