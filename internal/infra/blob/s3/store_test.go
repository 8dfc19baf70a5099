package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"seedlot/internal/blob/core"
)

// fakeBucket serves the handful of S3 calls the store makes.
type fakeBucket struct {
	mu    sync.Mutex
	state map[string]stored
	puts  int
}

type stored struct {
	body        []byte
	contentType string
}

func empty(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.state {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>\"e\"</ETag><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(f.state[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(b.String())), Header: http.Header{"Content-Type": {"application/xml"}}}, nil
	}
	switch req.Method {
	case http.MethodHead:
		st, ok := f.state[key]
		if !ok {
			return empty(http.StatusNotFound), nil
		}
		resp := empty(http.StatusOK)
		resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(st.body)))
		resp.Header.Set("Content-Type", st.contentType)
		resp.Header.Set("ETag", `"abc123"`)
		resp.Header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		resp.ContentLength = 0
		return resp, nil
	case http.MethodPut:
		if _, exists := f.state[key]; exists && req.Header.Get("If-None-Match") == "*" {
			return empty(http.StatusPreconditionFailed), nil
		}
		body, _ := io.ReadAll(req.Body)
		f.state[key] = stored{body: body, contentType: req.Header.Get("Content-Type")}
		f.puts++
		resp := empty(http.StatusOK)
		resp.Header.Set("ETag", `"abc123"`)
		return resp, nil
	case http.MethodGet:
		st, ok := f.state[key]
		if !ok {
			body := `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{"Content-Type": {"application/xml"}}}, nil
		}
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(st.body)), Header: http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(st.body))},
			"Content-Type":   {st.contentType},
			"ETag":           {`"abc123"`},
		}}, nil
	}
	return empty(http.StatusNotImplemented), nil
}

func newFakeStore(t *testing.T) (*Store, *fakeBucket) {
	t.Helper()
	fb := &fakeBucket{state: make(map[string]stored)}
	store, err := New(context.Background(), Config{
		Bucket:          "evidence-archive",
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	}, func(o *awsS3.Options) {
		o.HTTPClient = &http.Client{Transport: fb}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, fb
}

func TestStore_PutGetHeadList(t *testing.T) {
	store, _ := newFakeStore(t)
	ctx := context.Background()
	info, err := store.Put(ctx, "evidence/abc", bytes.NewReader([]byte("certificate scan")), core.PutOptions{ContentType: "application/pdf"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "evidence/abc" || info.ContentType != "application/pdf" || info.ETag != "abc123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Head(ctx, "evidence/abc"); err != nil {
		t.Fatalf("head: %v", err)
	}
	_, rc, err := store.Get(ctx, "evidence/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "certificate scan" {
		t.Fatalf("get mismatch: %q", data)
	}
	list, err := store.List(ctx, "evidence/")
	if err != nil || len(list) != 1 || list[0].Key != "evidence/abc" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if url, err := store.PresignURL(ctx, "evidence/abc", core.SignedURLOptions{Expiry: time.Minute}); err != nil || url == "" {
		t.Fatalf("presign: %v %q", err, url)
	}
}

func TestStore_PutIsWriteOnce(t *testing.T) {
	store, fb := newFakeStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "evidence/k", strings.NewReader("first"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := store.Put(ctx, "evidence/k", strings.NewReader("second"), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if fb.puts != 1 || string(fb.state["evidence/k"].body) != "first" {
		t.Fatalf("object was overwritten: puts=%d body=%q", fb.puts, fb.state["evidence/k"].body)
	}
}

func TestStore_MissingKeys(t *testing.T) {
	store, _ := newFakeStore(t)
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "nope", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign method, got %v", err)
	}
}

func TestStore_NewValidatesAndDefaults(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	store, _ := newFakeStore(t)
	if store.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
	info := store.fromHead("k", 10, nil, aws.String(`"etagval"`), nil, nil)
	if info.ETag != "etagval" || info.ContentType != "" || info.LastModified.IsZero() {
		t.Fatalf("unexpected info %+v", info)
	}
}
