package dummy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// A tiny in-memory stand-in for the real backends. It speaks just enough of
// the REST contract (login, me, posts, likes) to smoke-test the harness and
// the k6 script without a database.

type ServerConfig struct {
	Port     int
	Email    string
	Password string
}

type post struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

const token = "dummy-token"

func Start(cfg ServerConfig) {
	var (
		mu    sync.Mutex
		posts = map[int]post{}
		likes = map[int]bool{}
		next  = 1
	)

	jitter := func() { time.Sleep(time.Duration(rand.Intn(5)+1) * time.Millisecond) }

	authed := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return false
		}
		return true
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Email != cfg.Email || body.Password != cfg.Password {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})

	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"email": cfg.Email})
	})

	mux.HandleFunc("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		mu.Lock()
		out := make([]post, 0, len(posts))
		for _, p := range posts {
			out = append(out, p)
		}
		mu.Unlock()
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("POST /posts", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		var p post
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		p.ID = next
		next++
		posts[p.ID] = p
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	})

	mux.HandleFunc("GET /posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		id, _ := strconv.Atoi(r.PathValue("id"))
		mu.Lock()
		p, ok := posts[id]
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(p)
	})

	mux.HandleFunc("GET /posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		json.NewEncoder(w).Encode([]string{})
	})

	mux.HandleFunc("POST /posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"status": "created"})
	})

	mux.HandleFunc("DELETE /posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		id, _ := strconv.Atoi(r.PathValue("id"))
		mu.Lock()
		defer mu.Unlock()
		if _, ok := posts[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(posts, id)
		delete(likes, id)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /posts/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		id, _ := strconv.Atoi(r.PathValue("id"))
		mu.Lock()
		defer mu.Unlock()
		if _, ok := posts[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if likes[id] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		likes[id] = true
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("DELETE /posts/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		jitter()
		if !authed(w, r) {
			return
		}
		id, _ := strconv.Atoi(r.PathValue("id"))
		mu.Lock()
		defer mu.Unlock()
		if !likes[id] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(likes, id)
		w.WriteHeader(http.StatusNoContent)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("👻 Dummy backend running on http://localhost%s\n", addr)
	fmt.Printf("   Login with %s / %s\n", cfg.Email, cfg.Password)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server failed: %v\n", err)
		}
	}()
}
