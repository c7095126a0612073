// Command feeder posts synthetic signals and a trigger alert at a running
// correlator, for local development. It simulates a deployment to
// paymentservice followed by an error-rate alarm so the full pipeline can
// be exercised without real collectors.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

type signal struct {
	ID         string            `json:"id"`
	Service    string            `json:"service"`
	Kind       string            `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Severity   string            `json:"severity"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      *float64          `json:"value,omitempty"`
}

type trigger struct {
	Service    string    `json:"service"`
	Timestamp  time.Time `json:"timestamp"`
	Severity   string    `json:"severity"`
	MetricName string    `json:"metric_name"`
	AlarmID    string    `json:"alarm_id"`
}

func main() {
	var baseURL string
	var noise int
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "correlator base URL")
	flag.IntVar(&noise, "noise", 40, "number of background noise signals")
	flag.Parse()

	now := time.Now().UTC()
	services := []string{"frontend", "checkoutservice", "paymentservice", "cartservice"}

	signals := []signal{
		{
			ID:        uuid.NewString(),
			Service:   "paymentservice",
			Kind:      "deployment",
			Timestamp: now.Add(-8 * time.Minute),
			Severity:  "medium",
			Attributes: map[string]string{
				"commit":     gofakeit.UUID()[:8],
				"repository": "github.com/vigilstack/demo-shop",
				"version":    "v1." + fmt.Sprint(gofakeit.Number(10, 99)),
			},
		},
	}
	for i := 0; i < noise; i++ {
		value := gofakeit.Float64Range(0.1, 3.0)
		signals = append(signals, signal{
			ID:        uuid.NewString(),
			Service:   services[gofakeit.Number(0, len(services)-1)],
			Kind:      "metric",
			Timestamp: now.Add(-time.Duration(gofakeit.Number(1, 25)) * time.Minute),
			Severity:  "low",
			Attributes: map[string]string{
				"metric": "cpu_usage",
			},
			Value: &value,
		})
	}
	for i := 0; i < 5; i++ {
		signals = append(signals, signal{
			ID:        uuid.NewString(),
			Service:   "paymentservice",
			Kind:      "log",
			Timestamp: now.Add(-time.Duration(gofakeit.Number(1, 7)) * time.Minute),
			Severity:  "high",
			Attributes: map[string]string{
				"message": "charge failed: " + gofakeit.HackerPhrase(),
			},
		})
	}

	post(baseURL+"/api/v1/signals", signals)
	post(baseURL+"/api/v1/triggers", trigger{
		Service:    "paymentservice",
		Timestamp:  now,
		Severity:   "high",
		MetricName: "error_rate",
		AlarmID:    "alarm-" + uuid.NewString()[:8],
	})
}

func post(url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	log.Printf("POST %s -> %s", url, resp.Status)
}
