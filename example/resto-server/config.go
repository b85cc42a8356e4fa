package main

import (
	"os"

	"github.com/spf13/viper"
)

type config struct {
	HTTPAddress      string `mapstructure:"http_address"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	RedisAddress     string `mapstructure:"redis_address"`
	KeepaliveSeconds int    `mapstructure:"keepalive_seconds"`
	FeedPageSize     int    `mapstructure:"feed_page_size"`
	SubscribeBurst   int    `mapstructure:"subscribe_burst"`
}

func loadConfig(path string) (config, error) {
	var c config

	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()

	viper.SetConfigType("yaml")
	viper.SetDefault("http_address", "localhost:9090")
	viper.SetDefault("keepalive_seconds", 25)
	viper.SetDefault("feed_page_size", 20)
	viper.SetDefault("subscribe_burst", 30)

	if err := viper.ReadConfig(f); err != nil {
		return c, err
	}
	if err := viper.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}
