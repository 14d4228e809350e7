package main

import (
	"encoding/json"
	"os"
)

// Config for knxdiscover.
type Config struct {
	Control     string `json:"control"`
	Timeout     int    `json:"timeout"`
	Mode        bool   `json:"programmingmode"`
	MAC         string `json:"mac"`
	Describe    bool   `json:"describe"`
	Log         string `json:"log"`
	MetricsAddr string `json:"metricsaddr"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
