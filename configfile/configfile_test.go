package configfile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/configfile"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", configfile.DefaultName)

	f, created, err := configfile.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected file to be created")
	}
	if f.Delivery.MaxRetries != 3 || f.Security.SignatureHeader != "X-Courier-Signature" {
		t.Fatalf("unexpected defaults %+v", f.Config)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"retry_delay_seconds": 60`) {
		t.Fatalf("defaults not written as JSON:\n%s", data)
	}

	again, created, err := configfile.Load(path)
	if err != nil || created {
		t.Fatalf("second load: created=%v err=%v", created, err)
	}
	if again.Config != f.Config {
		t.Fatal("round trip changed the configuration")
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook_config.json")
	doc := `{"delivery": {"max_retries": 5}, "security": {"signature_algorithm": "sha1"}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := configfile.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Delivery.MaxRetries != 5 || f.Security.SignatureAlgorithm != "sha1" {
		t.Fatalf("values not read: %+v", f.Config)
	}
	if f.Delivery.TimeoutSeconds != 10 || !f.Security.SignPayloads || f.Workers != 2 {
		t.Fatalf("defaults lost: %+v", f.Config)
	}
}

func TestYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.yaml")

	f := configfile.Default()
	f.Workers = 6
	f.RateLimiting.MaxPerMinute = 10
	f.Logging.Level = "debug"
	if err := configfile.Save(path, f); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "workers: 6") {
		t.Fatalf("not written as YAML:\n%s", data)
	}

	got, err := configfile.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Workers != 6 || got.RateLimiting.MaxPerMinute != 10 || got.Logging.Level != "debug" {
		t.Fatalf("round trip lost values: %+v", got)
	}
}

func TestSchemaRejectsBadDocuments(t *testing.T) {
	tests := map[string]string{
		"unknown key":    `{"delivery": {"max_retry": 3}}`,
		"wrong type":     `{"delivery": {"max_retries": "three"}}`,
		"below minimum":  `{"workers": 0}`,
		"bad log level":  `{"logging": {"level": "loud"}}`,
		"bad multiplier": `{"delivery": {"retry_backoff_multiplier": 0.5}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := configfile.Parse([]byte(doc), false)
			if !errors.Is(err, courier.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSemanticValidation(t *testing.T) {
	doc := `{"ledger": {"purge_schedule": "sometimes"}}`
	if _, err := configfile.Parse([]byte(doc), false); !errors.Is(err, courier.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMalformedJSON(t *testing.T) {
	if _, err := configfile.Parse([]byte(`{"workers": `), false); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webhook_config.json")
	if err := configfile.Save(path, configfile.Default()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		f   *configfile.File
		err error
	}
	changes := make(chan result, 8)
	err := configfile.Watch(ctx, path, 20*time.Millisecond, func(f *configfile.File, err error) {
		changes <- result{f, err}
	})
	if err != nil {
		t.Fatal(err)
	}

	// Unrelated files in the directory are ignored.
	_ = os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600)

	f := configfile.Default()
	f.Delivery.MaxRetries = 9
	if err := configfile.Save(path, f); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-changes:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.f.Delivery.MaxRetries != 9 {
			t.Fatalf("max_retries = %d", r.f.Delivery.MaxRetries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	if err := os.WriteFile(path, []byte(`{"workers": "many"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-changes:
		if r.err == nil {
			t.Fatal("expected validation error for bad file")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
