package common

import (
	"os"
	"strconv"
	"testing"
)

func IsTestEnv() bool {
	return testing.Testing()
}

func IsDevelopment() bool {
	return os.Getenv(EnvKeyGoEnv) == "development"
}

func IsProduction() bool {
	return os.Getenv(EnvKeyGoEnv) == "production"
}

func EnvOrDefault(key, fallback string) string {
	if v, found := os.LookupEnv(key); found {
		return v
	}
	return fallback
}

func EnvIntOrDefault(key string, fallback int) int {
	v, found := os.LookupEnv(key)
	if !found {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func Mapper[T any, R any](items []T, mapFn func(T) R) []R {
	mapped := make([]R, len(items))
	for i := range items {
		mapped[i] = mapFn(items[i])
	}
	return mapped
}

func Reducer[T any, R any](items []T, reduceFn func(R, T) R, initAcc R) R {
	finalAcc := initAcc
	for i := range items {
		finalAcc = reduceFn(finalAcc, items[i])
	}
	return finalAcc
}
