// Package main calls the upstream price API once and prints the converted prices.
// It bypasses the cache and quota guard, so every run spends one API call.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/metal-price-cache/internal/adapter"
	"github.com/metal-price-cache/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: Could not load .env file: %v\n", err)
	}

	apiKey := os.Getenv("METALPRICE_API_KEY")
	if len(os.Args) > 1 {
		apiKey = os.Args[1]
	}
	if apiKey == "" {
		fmt.Println("Error: METALPRICE_API_KEY not set")
		os.Exit(1)
	}

	baseURL := os.Getenv("METALPRICE_BASE_URL")
	client := adapter.NewMetalPriceClient(&config.MetalPriceConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if client.IsTestMode() {
		fmt.Println("Using test key, no API call will be made")
	}
	fmt.Println("Fetching latest gold and silver rates...")

	start := time.Now()
	snapshot, err := client.FetchPrices(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nSource:     %s\n", snapshot.Source)
	fmt.Printf("Data date:  %s\n", snapshot.DataDate)
	fmt.Printf("Fetched at: %s\n", snapshot.FetchedAt.Format(time.RFC3339))
	fmt.Printf("Gold:       EUR %.2f / gram\n", snapshot.Gold)
	fmt.Printf("Silver:     EUR %.3f / gram\n", snapshot.Silver)
	fmt.Printf("Took:       %v\n", time.Since(start).Round(time.Millisecond))
}
