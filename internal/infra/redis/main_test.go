//go:build integration

package redis

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"genforge/internal/config"
)

var testClient *Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	cmd := exec.Command("docker", "run", "-d", "--rm", "--network", "host", "redis:7")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start redis container: %v. Is Docker running?", err)
	}
	containerID := strings.TrimSpace(out.String())[:12]

	var err error
	for i := 0; i < 15; i++ {
		testClient, err = NewClient(ctx, &config.RedisConfig{URL: "localhost:6379"})
		if err == nil {
			break
		}
		log.Printf("Waiting for redis to be ready... (attempt %d/15)", i+1)
		time.Sleep(time.Second)
	}
	if err != nil {
		exec.Command("docker", "stop", containerID).Run()
		log.Fatalf("Unable to connect to test redis: %v", err)
	}

	exitCode := m.Run()

	testClient.Close()
	if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
		log.Printf("could not stop redis container %s: %v", containerID, err)
	}
	os.Exit(exitCode)
}

func flush(t *testing.T) {
	t.Helper()
	if err := testClient.cli.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
}
