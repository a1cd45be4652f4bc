package monitoring

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkerInfo es lo que el dispatcher sabe de cada worker que ha pasado por
// get_work o submit_result. Solo sirve para observabilidad: la cola nunca
// decide nada en función del worker.
type WorkerInfo struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	LastSeen  time.Time `json:"last_seen"`
	Issued    int64     `json:"issued"`
	Submitted int64     `json:"submitted"`
}

// Registry lleva la tabla de workers vistos.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*WorkerInfo
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*WorkerInfo)}
}

// Touch registra actividad de un worker y devuelve su ID. Si el worker no
// trae ID (primer contacto) se le asigna un UUID que debe reutilizar.
func (r *Registry) Touch(id, ip string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}
	w, ok := r.workers[id]
	if !ok {
		w = &WorkerInfo{ID: id}
		r.workers[id] = w
	}
	w.IP = ip
	w.LastSeen = time.Now()
	return id
}

func (r *Registry) RecordIssued(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.Issued += int64(n)
	}
}

func (r *Registry) RecordSubmitted(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.Submitted += int64(n)
	}
}

// List devuelve una copia de la tabla de workers.
func (r *Registry) List() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	return out
}

// Count devuelve cuántos workers distintos se han visto.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
