package main

import (
	"encoding/json"
	"os"
)

// Config for knxrouted.
type Config struct {
	Interface   string `json:"interface"`
	Group       string `json:"group"`
	Secure      bool   `json:"secure"`
	BackboneKey string `json:"backbonekey"`
	Serial      string `json:"serial"`
	Latency     int    `json:"latencyms"`
	Log         string `json:"log"`
	MetricsAddr string `json:"metricsaddr"`
	Quiet       bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
