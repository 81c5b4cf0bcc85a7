// Command stackcheck probes the collaborators the segmenter depends on:
// Redis, the static maps API, Kafka and the H3 mapping.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/farm-segmentation/internal/cache/redisstore"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/config"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/httpclient"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	h3mapper "github.com/mohammed-shakir/farm-segmentation/internal/mapper/h3"
	"github.com/mohammed-shakir/farm-segmentation/internal/segevents"
	"github.com/mohammed-shakir/farm-segmentation/internal/tiles"
)

// a farm near Ahmednagar, Maharashtra
var probePoint = model.GeoPoint{Lat: 19.54841, Lon: 74.188663}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	c, err := redisstore.New(ctx, addr, redisstore.WithDialTimeout(2*time.Second))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	key := "stackcheck:" + uuid.NewString()
	if err := c.Set(ctx, key, []byte("ok"), 30*time.Second); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, ok, err := c.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis get: %s missing right after set", key)
	}
	_ = c.Del(ctx, key)
	fmt.Println("redis round trip:", string(val))
	return nil
}

func testTile(ctx context.Context, cfg config.TileCfg) error {
	fmt.Println("Static maps test")
	f, err := tiles.New(logger.Discard(), httpclient.NewOutbound(cfg.Timeout), cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return err
	}
	if !f.HasKey() {
		fmt.Println("GOOGLE_MAPS_API_KEY not set, skipping")
		return nil
	}
	img, err := f.Fetch(ctx, model.TileRequest{Center: probePoint, Zoom: cfg.Zoom, SizePx: cfg.Pixels})
	if err != nil {
		return err
	}
	mean, std := tiles.LuminanceStats(img)
	fmt.Printf("tile %dx%d luminance mean=%.1f std=%.1f\n", img.Bounds().Dx(), img.Bounds().Dy(), mean, std)
	return nil
}

func testKafka(cfg config.EventsCfg) error {
	fmt.Println("Kafka test")
	brokers := cfg.BrokerList()

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := segevents.Event{
		ID:         uuid.NewString(),
		Lat:        probePoint.Lat,
		Lon:        probePoint.Lon,
		Selection:  "stackcheck",
		Checkpoint: "none",
		TS:         time.Now().UTC(),
	}
	b, _ := json.Marshal(ev)
	partition, offset, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: cfg.Topic, Key: sarama.StringEncoder(ev.ID), Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced event %s to partition %d offset %d\n", ev.ID, partition, offset)

	consumer, err := sarama.NewConsumer(brokers, sc)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(cfg.Topic, partition, offset)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}
	return nil
}

func demoH3(res int) error {
	fmt.Println("H3 demo")
	cell, err := h3mapper.New().CellForPoint(probePoint, res)
	if err != nil {
		return err
	}
	fmt.Printf("click %s -> cell %s (res %d)\n", probePoint, cell, res)
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}

	if cfg.ResultCache.RedisAddr != "" {
		if err := testRedis(ctx, cfg.ResultCache.RedisAddr); err != nil {
			fmt.Println("Redis error:", err)
			os.Exit(1)
		}
	}
	if err := testTile(ctx, cfg.Tile); err != nil {
		fmt.Println("Static maps error:", err)
		os.Exit(1)
	}
	if cfg.Events.Enabled {
		if err := testKafka(cfg.Events); err != nil {
			fmt.Println("Kafka error:", err)
			os.Exit(1)
		}
	}
	if err := demoH3(cfg.ResultCache.H3Res); err != nil {
		fmt.Println("H3 error:", err)
		os.Exit(1)
	}
	fmt.Println("All checks completed")
}
