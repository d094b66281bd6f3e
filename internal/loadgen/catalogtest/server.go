// Package catalogtest provides an in-memory product catalog for tests.
package catalogtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Options tunes the fake catalog's behaviour.
type Options struct {
	// Latency is added to every response.
	Latency time.Duration

	// ConflictEvery makes every Nth create return 409 regardless of state.
	ConflictEvery int
}

// Server is a fake catalog service backed by a map.
type Server struct {
	*httptest.Server

	opts Options

	mu       sync.Mutex
	products map[string]map[string]interface{}

	creates  atomic.Int64
	requests sync.Map // method+route -> *atomic.Int64
}

// NewServer starts a fake catalog. Call Close when done.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:     opts,
		products: make(map[string]map[string]interface{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /products", s.create)
	mux.HandleFunc("GET /products", s.list)
	mux.HandleFunc("GET /products/{sku}", s.get)
	mux.HandleFunc("PUT /products/{sku}", s.replace)
	mux.HandleFunc("PATCH /products/{sku}", s.patch)
	mux.HandleFunc("DELETE /products/{sku}", s.remove)

	s.Server = httptest.NewServer(s.wrap(mux))
	return s
}

func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Requests returns how many requests were served for a method and route,
// e.g. Requests("POST", "/products").
func (s *Server) Requests(method, route string) int64 {
	v, ok := s.requests.Load(method + " " + route)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Stored returns the number of products currently stored.
func (s *Server) Stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

// Product returns a stored product.
func (s *Server) Product(sku string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[sku]
	return p, ok
}

func (s *Server) count(method, route string) {
	v, _ := s.requests.LoadOrStore(method+" "+route, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	s.count(r.Method, "/products")
	n := s.creates.Add(1)

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sku, _ := body["sku"].(string)
	if sku == "" {
		writeError(w, http.StatusBadRequest, "sku is required")
		return
	}

	if s.opts.ConflictEvery > 0 && n%int64(s.opts.ConflictEvery) == 0 {
		writeError(w, http.StatusConflict, "product already exists")
		return
	}

	s.mu.Lock()
	if _, exists := s.products[sku]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "product already exists")
		return
	}
	s.products[sku] = body
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	s.count(r.Method, "/products/{sku}")

	p, ok := s.Product(r.PathValue("sku"))
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.count(r.Method, "/products")

	s.mu.Lock()
	skus := make([]string, 0, len(s.products))
	for sku := range s.products {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	const pageSize = 20
	content := make([]map[string]interface{}, 0, pageSize)
	for i := 0; i < len(skus) && i < pageSize; i++ {
		content = append(content, s.products[skus[i]])
	}
	total := len(skus)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":        content,
		"page":           0,
		"size":           pageSize,
		"total_elements": total,
		"total_pages":    (total + pageSize - 1) / pageSize,
	})
}

func (s *Server) replace(w http.ResponseWriter, r *http.Request) {
	s.count(r.Method, "/products/{sku}")
	sku := r.PathValue("sku")

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body["sku"] = sku

	s.mu.Lock()
	if _, ok := s.products[sku]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	s.products[sku] = body
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	s.count(r.Method, "/products/{sku}")
	sku := r.PathValue("sku")

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	s.mu.Lock()
	p, ok := s.products[sku]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	updated := make(map[string]interface{}, len(p))
	for k, v := range p {
		updated[k] = v
	}
	for k, v := range body {
		if k != "sku" {
			updated[k] = v
		}
	}
	s.products[sku] = updated
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	s.count(r.Method, "/products/{sku}")
	sku := r.PathValue("sku")

	s.mu.Lock()
	_, ok := s.products[sku]
	delete(s.products, sku)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
