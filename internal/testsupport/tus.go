// Package testsupport holds in-memory fakes shared by package tests.
package testsupport

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// TUSUpload is one upload received by a TUSServer.
type TUSUpload struct {
	ID       string
	Length   int64
	Data     []byte
	Header   http.Header
	Metadata map[string]string
}

// Complete reports whether every declared byte arrived.
func (u *TUSUpload) Complete() bool { return int64(len(u.Data)) == u.Length }

// TUSServer is a minimal TUS 1.0 server (creation, HEAD offsets, PATCH) with failure injection.
type TUSServer struct {
	*httptest.Server

	mu           sync.Mutex
	uploads      map[string]*TUSUpload
	order        []string
	patches      int
	failPatches  int
	alwaysFail   bool
	chunkOffsets []int64
}

// NewTUSServer starts a fake TUS server. Its creation endpoint is Endpoint().
func NewTUSServer() *TUSServer {
	s := &TUSServer{uploads: make(map[string]*TUSUpload)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the upload creation URL.
func (s *TUSServer) Endpoint() string { return s.URL + "/files" }

// FailNextPatches makes the next n PATCH requests commit half of their chunk and then fail.
func (s *TUSServer) FailNextPatches(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPatches = n
}

// AlwaysFail makes every PATCH fail without committing data.
func (s *TUSServer) AlwaysFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysFail = v
}

// Uploads returns uploads in creation order.
func (s *TUSServer) Uploads() []*TUSUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TUSUpload, 0, len(s.order))
	for _, id := range s.order {
		u := *s.uploads[id]
		u.Data = append([]byte(nil), u.Data...)
		out = append(out, &u)
	}
	return out
}

// Patches returns the number of PATCH requests received.
func (s *TUSServer) Patches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patches
}

// ChunkOffsets returns the Upload-Offset of every accepted PATCH, in arrival order.
func (s *TUSServer) ChunkOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.chunkOffsets...)
}

func (s *TUSServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", "1.0.0")
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/files":
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil {
			http.Error(w, "bad Upload-Length", http.StatusBadRequest)
			return
		}
		id := fmt.Sprintf("u%d", len(s.order)+1)
		s.uploads[id] = &TUSUpload{
			ID:       id,
			Length:   length,
			Header:   r.Header.Clone(),
			Metadata: decodeMetadata(r.Header.Get("Upload-Metadata")),
		}
		s.order = append(s.order, id)
		w.Header().Set("Location", s.URL+"/files/"+id)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodHead && strings.HasPrefix(r.URL.Path, "/files/"):
		u, ok := s.uploads[strings.TrimPrefix(r.URL.Path, "/files/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Upload-Offset", strconv.Itoa(len(u.Data)))
		w.Header().Set("Upload-Length", strconv.FormatInt(u.Length, 10))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/files/"):
		s.patches++
		u, ok := s.uploads[strings.TrimPrefix(r.URL.Path, "/files/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
		if err != nil || offset != int64(len(u.Data)) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.alwaysFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.failPatches > 0 {
			s.failPatches--
			u.Data = append(u.Data, body[:len(body)/2]...)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.chunkOffsets = append(s.chunkOffsets, offset)
		u.Data = append(u.Data, body...)
		w.Header().Set("Upload-Offset", strconv.Itoa(len(u.Data)))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeMetadata(h string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(h, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		if parts[0] == "" {
			continue
		}
		if len(parts) == 1 {
			out[parts[0]] = ""
			continue
		}
		v, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		out[parts[0]] = string(v)
	}
	return out
}
