package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/properties"
	"github.com/dymaxionlabs/satlomas/internal/sentinel"
	"github.com/joho/godotenv"
)

func main() {
	// Hardcoded test parameters - modify these to test different scenarios
	aoiFile := properties.DataPath("aoi", "lomas.geojson")
	property := "name"
	site := "Lachay"
	testDate := time.Date(2020, 9, 15, 0, 0, 0, 0, time.UTC)
	intervalDays := 5

	fmt.Println("=== SatLomas Test Image Request ===")
	fmt.Printf("Site: %s\n", site)
	fmt.Printf("Date: %s\n", testDate.Format("2006-01-02"))
	fmt.Println()

	if err := godotenv.Load("../../.env"); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
		fmt.Println("Make sure you have set the required environment variables:")
		fmt.Println("- COPERNICUS_CLIENT_ID")
		fmt.Println("- COPERNICUS_CLIENT_SECRET")
		fmt.Println("- COPERNICUS_TOKEN_URL")
		fmt.Println("- ROOT_PATH")
		fmt.Println()
	}

	fmt.Printf("Loading geometry for %s=%s from %s...\n", property, site, aoiFile)
	geometry, err := sentinel.FeatureGeometry(aoiFile, property, site)
	if err != nil {
		log.Fatalf("Failed to get geometry: %v", err)
	}
	fmt.Println("✓ Geometry loaded successfully")

	client, err := sentinel.NewProcessClient()
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	startDate := testDate.AddDate(0, 0, -intervalDays)
	endDate := testDate.AddDate(0, 0, 1)
	fmt.Printf("Requesting image from %s to %s...\n", startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))

	content, err := client.RequestImage(context.Background(), startDate, endDate, geometry, sentinel.RequestOptions{})
	if errors.Is(err, sentinel.ErrImageNotFound) {
		fmt.Println("No image available. This could mean:")
		fmt.Println("- No satellite data available for this date")
		fmt.Println("- API credentials issue")
		return
	}
	if err != nil {
		log.Fatalf("Failed to request image: %v", err)
	}

	imagePath := properties.DataPath("images", fmt.Sprintf("%s_%s.tif", site, testDate.Format("2006-01-02")))
	if err := os.MkdirAll(filepath.Dir(imagePath), 0755); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(imagePath, content, 0644); err != nil {
		log.Fatalf("Failed to save image: %v", err)
	}

	info, err := sentinel.InspectImage(imagePath)
	if err != nil {
		os.Remove(imagePath)
		log.Fatalf("Downloaded image is unusable: %v", err)
	}

	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Image saved to: %s\n", imagePath)
	fmt.Printf("Size: %dx%d, bands: %d\n", info.Width, info.Height, info.Bands)
	fmt.Printf("Valid pixels: %.1f%%\n", info.ValidFraction*100)
	fmt.Printf("Origin: %.6f, %.6f\n", info.GeoTransform[0], info.GeoTransform[3])

	fmt.Println("\n✓ Test completed successfully!")
}
