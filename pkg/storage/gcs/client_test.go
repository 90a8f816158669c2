package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newSigningClient(t *testing.T) (*Client, *rsa.PrivateKey) {
	t.Helper()
	key := mustGenerateKey(t)
	return &Client{
		defaultBucket: "covers-bucket",
		serviceAccount: &serviceAccountInfo{
			clientEmail: "signer@example.com",
			privateKey:  key,
		},
	}, key
}

func verifySignature(t *testing.T, key *rsa.PrivateKey, rawURL, method, contentType, resource string) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if !strings.EqualFold(parsed.Host, storageHost) {
		t.Fatalf("unexpected host %s", parsed.Host)
	}
	values := parsed.Query()
	if got := values.Get("GoogleAccessId"); got != "signer@example.com" {
		t.Fatalf("unexpected GoogleAccessId %q", got)
	}
	expires := values.Get("Expires")
	if expires == "" {
		t.Fatal("Expires missing")
	}
	rawSig, err := base64.StdEncoding.DecodeString(values.Get("Signature"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	payload := method + "\n\n" + contentType + "\n" + expires + "\n" + resource
	hash := sha256.Sum256([]byte(payload))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, hash[:], rawSig); err != nil {
		t.Fatalf("verify signature: %v", err)
	}
}

func TestSignedURLSuccess(t *testing.T) {
	t.Parallel()
	client, key := newSigningClient(t)

	object := "covers/book-1/abc/front.png"
	signed, err := client.SignedURL("", object, "image/png", 5*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL returned error: %v", err)
	}
	verifySignature(t, key, signed, http.MethodPut, "image/png", "/covers-bucket/"+object)
}

func TestSignedReadURLSuccess(t *testing.T) {
	t.Parallel()
	client, key := newSigningClient(t)

	object := "covers/book-1/abc/front.png"
	signed, err := client.SignedReadURL("covers-bucket", object, time.Hour)
	if err != nil {
		t.Fatalf("SignedReadURL returned error: %v", err)
	}
	verifySignature(t, key, signed, http.MethodGet, "", "/covers-bucket/"+object)
}

func TestSignedURLErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		bucket      string
		object      string
		contentType string
		expires     time.Duration
		clearBucket bool
	}{
		{"missing bucket", "", "object", "image/png", time.Minute, true},
		{"missing object", "bucket", "", "image/png", time.Minute, false},
		{"missing contentType", "bucket", "object", "", time.Minute, false},
		{"negative ttl", "bucket", "object", "image/png", -time.Minute, false},
		{"ttl beyond a week", "bucket", "object", "image/png", 8 * 24 * time.Hour, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newSigningClient(t)
			if tc.clearBucket {
				client.defaultBucket = ""
			}
			if _, err := client.SignedURL(tc.bucket, tc.object, tc.contentType, tc.expires); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}

	emptyClient := &Client{}
	if _, err := emptyClient.SignedURL("", "object", "image/png", time.Minute); err == nil {
		t.Fatal("expected error without service account")
	}
}

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func clientWithTransport(t *testing.T, status int, check func(*http.Request)) *Client {
	t.Helper()
	client, _ := newSigningClient(t)
	client.tokenSource = &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
		return "token", time.Now().Add(time.Hour), nil
	}}
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
		if check != nil {
			check(req)
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
		}
	})}
	return client
}

func TestDeleteObjectSuccess(t *testing.T) {
	t.Parallel()
	client := clientWithTransport(t, http.StatusNoContent, func(req *http.Request) {
		if req.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", req.Method)
		}
		if req.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("unexpected auth %s", req.Header.Get("Authorization"))
		}
	})
	if err := client.DeleteObject(context.Background(), "", "covers/file.png"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
}

func TestDeleteObjectNotFound(t *testing.T) {
	t.Parallel()
	client := clientWithTransport(t, http.StatusNotFound, nil)
	if err := client.DeleteObject(context.Background(), "covers-bucket", "covers/file.png"); err != nil {
		t.Fatalf("DeleteObject not found should succeed: %v", err)
	}
}

func TestDeleteObjectServerError(t *testing.T) {
	t.Parallel()
	client := clientWithTransport(t, http.StatusInternalServerError, nil)
	if err := client.DeleteObject(context.Background(), "covers-bucket", "covers/file.png"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func mustGenerateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}
