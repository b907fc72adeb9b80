package main

import (
	"os"
	"strconv"
)

type Config struct {
	Port       string
	EngineAddr string
	TimeoutMs  int

	CBFails  int
	CBOpenMs int
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func loadConfig() Config {
	return Config{
		Port:       getenv("PORT", "5009"),
		EngineAddr: getenv("ENGINE_GRPC_ADDR", "localhost:9090"),
		TimeoutMs:  getenvInt("TIMEOUT_MS", 3000),
		CBFails:    getenvInt("CB_FAILS", 5),
		CBOpenMs:   getenvInt("CB_OPEN_MS", 10000),
	}
}
