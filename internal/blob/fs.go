package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FSStore keeps blobs on the local filesystem and issues expiring HMAC-signed
// read URLs served by the application's /blobs handler. The token scheme
// follows the delegated-SAS pattern: the URL embeds an expiry and a signature
// over ref plus expiry, so a leaked URL stops working once it lapses.
type FSStore struct {
	root    string
	baseURL string
	secret  []byte
}

// NewFS creates the blob root if needed. baseURL is the externally reachable
// prefix for signed URLs, e.g. "http://localhost:8080".
func NewFS(root, baseURL, secret string) (*FSStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("blob signing secret required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
	}, nil
}

func (s *FSStore) Put(_ context.Context, ref string, r io.Reader, _ string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

func (s *FSStore) SignedURL(_ context.Context, ref string, ttl time.Duration) (string, error) {
	if _, err := s.path(ref); err != nil {
		return "", err
	}
	exp := time.Now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(ref, exp))
	return fmt.Sprintf("%s/blobs/%s?%s", s.baseURL, ref, q.Encode()), nil
}

func (s *FSStore) Delete(_ context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Open returns the blob contents; used by the /blobs serving handler.
func (s *FSStore) Open(ref string) (io.ReadSeekCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Verify checks a signed URL's expiry and signature for a ref.
func (s *FSStore) Verify(ref, expStr, sig string) bool {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > exp {
		return false
	}
	want := s.sign(ref, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *FSStore) sign(ref string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", ref, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// path resolves a ref under root, rejecting traversal outside it.
func (s *FSStore) path(ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	if clean == "/" {
		return "", fmt.Errorf("empty blob ref")
	}
	return filepath.Join(s.root, clean), nil
}
