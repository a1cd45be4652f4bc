package main

import (
	"log"
	"os"
	"strconv"
	"strings"
)

func envString(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func envInt(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("[SERVER] Valor inválido para %s (%s), usando %d", key, val, def)
		return def
	}
	return n
}
