package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Smoke test against a running simulator. Exits non-zero on the first
// failing step.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "simulator base URL")
	token := flag.String("token", os.Getenv("SMOKE_TOKEN"), "operator bearer token")
	flag.Parse()

	c := &client{base: *baseURL, token: *token, http: &http.Client{Timeout: 10 * time.Second}}
	fmt.Println("Starting smoke test...")

	// 1. Health
	if _, err := c.call(http.MethodGet, "/health", http.StatusOK); err != nil {
		fail("health check", err)
	}
	fmt.Println("✅ Simulator is healthy.")

	// 2. Spawn a process
	created, err := c.call(http.MethodPost, "/api/v1/processes", http.StatusCreated)
	if err != nil {
		fail("create process", err)
	}
	id := int(created["id"].(float64))
	fmt.Printf("✅ Process %d created.\n", id)

	// 3. Request the resource
	requested, err := c.call(http.MethodPost, fmt.Sprintf("/api/v1/processes/%d/request", id), http.StatusAccepted)
	if err != nil {
		fail("request resource", err)
	}
	holding, _ := requested["holding"].(bool)
	fmt.Printf("✅ Request sent (holding=%v).\n", holding)

	// 4. Coordinator state
	coord, err := c.call(http.MethodGet, "/api/v1/cluster/coordinator", http.StatusOK)
	if err != nil {
		fail("coordinator state", err)
	}
	fmt.Printf("✅ Coordinator %v busy=%v queue=%v.\n", coord["coordinator"], coord["busy"], coord["queue"])

	// 5. Release when holding
	if holding {
		if _, err := c.call(http.MethodPost, fmt.Sprintf("/api/v1/processes/%d/release", id), http.StatusOK); err != nil {
			fail("release resource", err)
		}
		fmt.Println("✅ Resource released.")
	}

	// 6. Usage log
	usage, err := c.call(http.MethodGet, "/api/v1/usage?limit=5", http.StatusOK)
	if err != nil {
		fmt.Printf("⚠️  Usage log not readable: %v\n", err)
	} else {
		fmt.Printf("✅ %v recent usage records.\n", usage["count"])
	}

	// 7. Clean up
	if _, err := c.call(http.MethodDelete, fmt.Sprintf("/api/v1/processes/%d", id), http.StatusOK); err != nil {
		fail("destroy process", err)
	}
	fmt.Printf("✅ Process %d destroyed.\n", id)

	fmt.Println("Smoke test completed.")
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) call(method, path string, want int) (map[string]any, error) {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != want {
		return body, fmt.Errorf("status %d: %v", resp.StatusCode, body["error"])
	}
	return body, nil
}

func fail(step string, err error) {
	fmt.Printf("❌ Failed to %s: %v\n", step, err)
	os.Exit(1)
}
