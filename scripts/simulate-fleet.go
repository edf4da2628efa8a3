//go:build ignore

// simulate-fleet.go drives a running trust plane server with synthetic
// telemetry from a small fleet, including one device that turns hostile
// partway through. Useful for watching scores, quarantine, and risk react
// in real time.
//
// Run with: go run scripts/simulate-fleet.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var serverURL = envOr("TRUSTPLANE_URL", "http://localhost:8080")

type fleetDevice struct {
	id       string
	location string
	ip       string
	hostile  bool // flips misbehaving after half the rounds
}

var fleet = []fleetDevice{
	{id: "sim-sensor-01", location: "hq", ip: "10.9.0.1"},
	{id: "sim-sensor-02", location: "hq", ip: "10.9.0.2"},
	{id: "sim-camera-01", location: "warehouse", ip: "10.9.1.1"},
	{id: "sim-gateway-01", location: "hq", ip: "10.9.0.254", hostile: true},
}

const rounds = 20

func main() {
	fmt.Printf("driving %d devices against %s\n", len(fleet), serverURL)

	for round := 0; round < rounds; round++ {
		for _, d := range fleet {
			misbehaving := d.hostile && round >= rounds/2

			ev := map[string]any{
				"device_id":         d.id,
				"certificate_valid": !misbehaving,
				"patch_status":      "up_to_date",
				"firmware_version":  "2.1.0",
				"location":          d.location,
				"ip_address":        d.ip,
				"cpu_usage":         20 + rand.Float64()*10,
				"memory_usage":      40 + rand.Float64()*10,
				"network_usage":     5 + rand.Float64()*5,
				"anomaly_score":     baselineOrSpike(misbehaving),
			}
			if misbehaving {
				ev["location"] = "unknown-offsite"
				ev["malware_signature_detected"] = true
			}

			if err := post(ev); err != nil {
				fmt.Fprintf(os.Stderr, "round %d %s: %v\n", round, d.id, err)
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("done — inspect with: trustctl overview")
}

func baselineOrSpike(misbehaving bool) float64 {
	if misbehaving {
		return 60 + rand.Float64()*30
	}
	return 5 + rand.Float64()*2
}

func post(ev map[string]any) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/api/v1/telemetry", "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
