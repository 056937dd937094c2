package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"cveteval/internal/blob/core"
)

func TestMockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMock()
	if store.Driver() != core.DriverS3 || store.Bucket() != "cveteval-reports" {
		t.Fatalf("unexpected store %s/%s", store.Driver(), store.Bucket())
	}
	info, err := store.Put(ctx, "reports/1-2/run.json", strings.NewReader(`{"run":"r1"}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"run": "r1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "reports/1-2/run.json" || info.Size != 12 || info.ContentType != "application/json" || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["run"] != "r1" {
		t.Fatalf("metadata not stored: %+v", info.Metadata)
	}
	if _, err := store.Put(ctx, "reports/1-2/run.json", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "reports/1-2/run.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"run":"r1"}` {
		t.Fatalf("unexpected body %q", body)
	}
	url, err := store.PresignURL(ctx, "reports/1-2/run.json", 30*time.Second)
	if err != nil || !strings.Contains(url, "reports/1-2/run.json") || !strings.Contains(url, "X-Amz-Expires=30") {
		t.Fatalf("presign: %v %s", err, url)
	}
	if existed, err := store.Delete(ctx, "reports/1-2/run.json"); err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	if existed, err := store.Delete(ctx, "reports/1-2/run.json"); err != nil || existed {
		t.Fatalf("second delete: %v %v", existed, err)
	}
}

func TestMockStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMock()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
	if _, err := store.Put(ctx, "../nope", strings.NewReader(""), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestMockStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMock()
	for i := range MockPageSize*2 + 1 {
		key := fmt.Sprintf("reports/1-2/run-%d.json", i)
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "other/x.json", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "reports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != MockPageSize*2+1 {
		t.Fatalf("expected %d keys across pages, got %d", MockPageSize*2+1, len(list))
	}
	if list[0].Key != "reports/1-2/run-0.json" {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestNewWithStaticCredentials(t *testing.T) {
	store, err := New(context.Background(), Config{
		Bucket:          "bkt",
		Endpoint:        "https://minio.local:9000",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	creds, err := store.client.Options().Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "AKIA" {
		t.Fatalf("static credentials not applied: %v %+v", err, creds)
	}
	if store.client.Options().Region != DefaultRegion {
		t.Fatalf("expected default region, got %s", store.client.Options().Region)
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	if _, ok := decodeAWSChunked([]byte("plain body")); ok {
		t.Fatalf("plain body must not decode")
	}
	if _, ok := decodeAWSChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch must not decode")
	}
	got, ok := decodeAWSChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	if !ok || string(got) != "hello" {
		t.Fatalf("expected hello, got %q %v", got, ok)
	}
}

func TestFakeBucketRejectsUnknownMethods(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]fakeObject{}}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, err := bucket.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %v %v", resp, err)
	}
}
