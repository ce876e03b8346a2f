// Package config loads server configuration from the environment.
package config

import (
	"os"
)

type Config struct {
	ListenAddr   string
	BridgeAddr   string
	TableName    string
	IndexName    string
	Region       string
	DefaultBoard string
	Model        string
}

func LoadConfig() Config {
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8484"
	}
	// The bridge is a trusted local side-channel; it must never bind a
	// routable interface.
	bridgeAddr := os.Getenv("BRIDGE_ADDR")
	if bridgeAddr == "" {
		bridgeAddr = "127.0.0.1:8485"
	}
	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		tableName = "tapestry-dev" // Default for local development
	}
	indexName := os.Getenv("INDEX_NAME")
	if indexName == "" {
		indexName = "LookupIndex" // Default for local development
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	defaultBoard := os.Getenv("DEFAULT_BOARD")
	if defaultBoard == "" {
		defaultBoard = "main"
	}
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return Config{
		ListenAddr:   listenAddr,
		BridgeAddr:   bridgeAddr,
		TableName:    tableName,
		IndexName:    indexName,
		Region:       region,
		DefaultBoard: defaultBoard,
		Model:        model,
	}
}
