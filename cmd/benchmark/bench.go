package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
	benchKey = "bench-key-12345"
)

var (
	streamChunks = [][]byte{
		[]byte(`data: {"id":"bench","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Bench"}}]}` + "\n\n"),
		[]byte(`data: {"id":"bench","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"mark"}}]}` + "\n\n"),
		[]byte(`data: {"id":"bench","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n"),
		[]byte(`data: {"id":"bench","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}` + "\n\n"),
	}
	streamDone = []byte("data: [DONE]\n\n")
	unaryResp  = []byte(`{"id":"bench-123","object":"chat.completion","created":1700000000,"model":"gpt-4o-mini",` +
		`"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],` +
		`"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)

	upstreamHits atomic.Int64
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	stream := flag.Bool("stream", false, "Use streaming requests")
	cached := flag.Bool("cached", false, "Send identical prompts so the response cache absorbs the load")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address for the gateway under test")
	flag.Parse()

	go startMockServer()

	fmt.Println("Building gateway...")
	buildCmd := exec.Command("go", "build", "-o", "bin/gateway", "./cmd/gateway")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build gateway: %v", err)
	}

	configFile := "bench_config.yaml"
	if err := os.WriteFile(configFile, []byte(benchConfig(*redisAddr, *rate)), 0o644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	defer os.Remove(configFile)

	fmt.Println("Starting gateway...")
	cmd := exec.Command("./bin/gateway", "serve", "--config", configFile)
	cmd.Env = append(os.Environ(), "LOG_LEVEL=error")

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	base := fmt.Sprintf("http://localhost:%d", appPort)
	waitForApp(base + "/health")

	done := make(chan struct{})
	go monitorStatus(base+"/v1/status", done)

	mode := "Unary"
	if *stream {
		mode = "Streaming"
	}
	fmt.Printf("Running %s benchmark: %s duration, %d req/s, cached=%v\n", mode, *duration, *rate, *cached)

	var seq atomic.Int64
	targeter := func(t *vegeta.Target) error {
		prompt := "Hello"
		if !*cached {
			prompt = "Hello " + strconv.FormatInt(seq.Add(1), 10)
		}
		body, _ := json.Marshal(map[string]interface{}{
			"model":    "openai/gpt-4o-mini",
			"stream":   *stream,
			"messages": []map[string]string{{"role": "user", "content": prompt}},
		})

		t.Method = http.MethodPost
		t.URL = base + "/v1/chat/completions"
		t.Body = body
		t.Header = http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer " + benchKey},
		}
		return nil
	}

	if *chaos {
		fmt.Println("CHAOS MODE ENABLED: starting disconnecting clients...")
		go startChaosMonkey(base+"/v1/chat/completions", min(max(*rate/10, 5), 50), done)
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()
	close(done)

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Printf("Upstream calls:  %d of %d requests\n", upstreamHits.Load(), metrics.Requests)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")
		seen := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if !seen[msg] && len(seen) < 5 {
				fmt.Println(msg)
				seen[msg] = true
			}
		}
	}
}

func startChaosMonkey(url string, concurrency int, done chan struct{}) {
	fmt.Printf("Starting %d disrupters (random disconnects 1-200ms)\n", concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for range concurrency {
		go func() {
			defer wg.Done()
			client := &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 100}}
			payload := `{"model": "openai/gpt-4o-mini", "stream": true, "messages": [{"role": "user", "content": "Chaos Request"}]}`

			for {
				select {
				case <-done:
					return
				default:
					timeout := time.Duration(rand.Intn(200)+1) * time.Millisecond
					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
					req.Header.Set("Content-Type", "application/json")
					req.Header.Set("Authorization", "Bearer "+benchKey)

					if resp, err := client.Do(req); err == nil {
						_ = resp.Body.Close()
					}
					cancel()

					time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
}

// startMockServer serves an OpenAI compatible upstream.
func startMockServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","owned_by":"openai"}]}`))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)

		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if val, ok := req["stream"].(bool); ok && val {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher, _ := w.(http.Flusher)
			for _, chunk := range streamChunks {
				time.Sleep(50 * time.Millisecond)
				_, _ = w.Write(chunk)
				flusher.Flush()
			}
			_, _ = w.Write(streamDone)
			flusher.Flush()
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

func monitorStatus(url string, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fmt.Printf("%-10s %-10s %-10s %-10s\n", "Time", "Hits", "Misses", "Healthy")
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			req, _ := http.NewRequest(http.MethodGet, url, nil)
			req.Header.Set("Authorization", "Bearer "+benchKey)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				continue
			}

			var st struct {
				CacheHits     int64 `json:"cache_hits"`
				CacheMisses   int64 `json:"cache_misses"`
				HealthyModels int   `json:"healthy_models"`
			}
			err = json.NewDecoder(resp.Body).Decode(&st)
			_ = resp.Body.Close()
			if err != nil {
				continue
			}
			fmt.Printf("%-10s %-10d %-10d %-10d\n", time.Now().Format("15:04:05"), st.CacheHits, st.CacheMisses, st.HealthyModels)
		}
	}
}

func waitForApp(url string) {
	for range 20 {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("Gateway timed out")
}

func benchConfig(redisAddr string, rate int) string {
	return fmt.Sprintf(`
server:
  port: "%d"
  env: production
redis:
  addr: %q
auth:
  keys:
    - key: %q
      caller: bench
      scopes: [admin]
rate_limit:
  requests: %d
  window: 1h
  ip_requests_per_second: 0
log:
  level: error
scheduler:
  enabled: false
providers:
  - id: openai
    type: openai
    api_key: mock-key
    base_url: "http://localhost:%d/v1"
    enabled: true
    discover: true
    models:
      - id: gpt-4o-mini
        context_length: 128000
        pricing: {prompt: 0.15, completion: 0.6}
`, appPort, redisAddr, benchKey, rate*3600, mockPort)
}
