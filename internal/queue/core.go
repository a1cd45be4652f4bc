package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/earthboundkid/deque/v2"

	"lineq/pkg/types"
)

// Source entrega lotes de líneas nuevas ya numeradas (el reader).
type Source interface {
	NextBatch(n int) ([]types.WorkUnit, error)
}

// Sink recibe resultados terminados y los persiste en orden (el writer).
type Sink interface {
	Accept(workID int64, result string) error
	Position() int64
	PendingCount() int
}

// Config son los parámetros de la cola. WorkTimeout y RetryBackoff toman su
// default cuando valen cero o menos; MaxRetries solo cuando es negativo
// (cero es válido: el primer timeout ya escribe el tombstone).
type Config struct {
	WorkTimeout  time.Duration // tras cuánto se reencola trabajo emitido
	MaxRetries   int           // timeouts permitidos antes del tombstone
	RetryBackoff int           // segundos de espera sugeridos en RETRY
}

const (
	DefaultWorkTimeout  = 600 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 30
)

type workItem struct {
	content string
	retries int
}

// Core es el estado autoritativo del proceso: qué work_id está pendiente,
// emitido o terminado. Un único mutex serializa toda mutación; el writer
// se invoca dentro de ese lock para que el orden de escritura sea el orden
// de aceptación.
type Core struct {
	mu   sync.Mutex
	src  Source
	sink Sink

	pending  deque.Deque[int64]
	items    map[int64]*workItem // contenido y reintentos por id vivo
	issuedAt map[int64]time.Time

	inputExhausted bool
	nextWorkID     int64

	workTimeout  time.Duration
	maxRetries   int
	retryBackoff int

	tombstoned      int
	expiredReissues int64
}

// New construye la cola. startID es la posición de reanudación que reporta
// el writer: el primer work_id que el reader va a producir.
func New(src Source, sink Sink, cfg Config, startID int64) *Core {
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = DefaultWorkTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Core{
		src:          src,
		sink:         sink,
		items:        make(map[int64]*workItem),
		issuedAt:     make(map[int64]time.Time),
		nextWorkID:   startID,
		workTimeout:  cfg.WorkTimeout,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}
}

// IssueResult es la respuesta de Issue ya clasificada.
type IssueResult struct {
	Status  types.WorkStatus
	Items   []types.WorkUnit
	RetryIn int
}

// Issue atiende un get_work: reusa lo reencolado, rellena desde el reader si
// hace falta y emite hasta batchSize items. Cuando no queda nada por hacer
// devuelve ALL_WORK_COMPLETE; cuando puede llegar más trabajo, RETRY.
func (c *Core) Issue(batchSize int) (IssueResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drainedLocked() {
		return IssueResult{Status: types.StatusAllWorkComplete}, nil
	}

	if c.pending.Len() == 0 && !c.inputExhausted {
		units, err := c.src.NextBatch(batchSize)
		if err != nil {
			return IssueResult{}, fmt.Errorf("queue: rellenar pending: %w", err)
		}
		for _, u := range units {
			c.items[u.WorkID] = &workItem{content: u.Content}
			c.pending.PushBack(u.WorkID)
			c.nextWorkID = u.WorkID + 1
		}
		if len(units) < batchSize {
			c.inputExhausted = true
		}
	}

	if c.pending.Len() == 0 {
		if c.drainedLocked() {
			return IssueResult{Status: types.StatusAllWorkComplete}, nil
		}
		// hay trabajo emitido o retenido en el writer: que vuelva a preguntar
		return IssueResult{Status: types.StatusRetry, RetryIn: c.retryBackoff}, nil
	}

	now := time.Now()
	out := make([]types.WorkUnit, 0, batchSize)
	for len(out) < batchSize && c.pending.Len() > 0 {
		id, _ := c.pending.Front()
		c.pending.RemoveFront()
		c.issuedAt[id] = now
		out = append(out, types.WorkUnit{WorkID: id, Content: c.items[id].content})
	}
	return IssueResult{Status: types.StatusOK, Items: out}, nil
}

// Submit procesa un lote de resultados. Solo se acepta el primer resultado
// de cada work_id actualmente emitido; lo demás (ids desconocidos, ya
// completados, o reencolados tras expirar) se descarta en silencio.
func (c *Core) Submit(results []types.ResultItem) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	accepted := 0
	for _, r := range results {
		if _, ok := c.issuedAt[r.WorkID]; !ok {
			continue
		}
		delete(c.issuedAt, r.WorkID)
		delete(c.items, r.WorkID)
		if err := c.sink.Accept(r.WorkID, r.Result); err != nil {
			return accepted, fmt.Errorf("queue: aceptar resultado %d: %w", r.WorkID, err)
		}
		accepted++
	}
	return accepted, nil
}

// SweepTimeouts reencola todo lo emitido hace workTimeout o más. Un item
// que ya agotó maxRetries timeouts no se reencola: se escribe su tombstone
// y se da por terminado. Ejecutarlo más a menudo de lo necesario es inocuo.
func (c *Core) SweepTimeouts(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []int64
	for id, at := range c.issuedAt {
		if now.Sub(at) >= c.workTimeout {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	for _, id := range expired {
		delete(c.issuedAt, id)
		it := c.items[id]
		it.retries++
		c.expiredReissues++
		if it.retries > c.maxRetries {
			delete(c.items, id)
			line, err := tombstoneLine(id, it.content)
			if err != nil {
				return err
			}
			if err := c.sink.Accept(id, line); err != nil {
				return fmt.Errorf("queue: escribir tombstone %d: %w", id, err)
			}
			c.tombstoned++
			log.Printf("[QUEUE] work_id=%d superó max_retries=%d, tombstone escrito", id, c.maxRetries)
			continue
		}
		c.pending.PushBack(id)
	}
	return nil
}

func tombstoneLine(id int64, content string) (string, error) {
	data, err := json.Marshal(types.Tombstone{Err: types.TombstoneBody{
		Error:           types.ErrMaxRetriesExceeded,
		WorkID:          id,
		OriginalContent: content,
	}})
	if err != nil {
		return "", fmt.Errorf("queue: serializar tombstone %d: %w", id, err)
	}
	return string(data), nil
}

// SetWorkTimeout cambia el timeout en caliente. Lo ya emitido se mide contra
// el valor nuevo, así que bajarlo puede reencolar trabajo en el próximo sweep.
func (c *Core) SetWorkTimeout(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workTimeout = time.Duration(seconds) * time.Second
}

// WorkTimeout devuelve el timeout vigente.
func (c *Core) WorkTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workTimeout
}

// Snapshot devuelve los contadores para /status.
func (c *Core) Snapshot() types.StatusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.StatusResponse{
		Pending:         c.pending.Len(),
		Issued:          len(c.issuedAt),
		Completed:       c.sink.Position(),
		Tombstoned:      c.tombstoned,
		InputExhausted:  c.inputExhausted,
		NextWorkID:      c.nextWorkID,
		ExpiredReissues: c.expiredReissues,
	}
}

// AllWorkComplete indica si no queda nada por leer, emitir ni escribir.
func (c *Core) AllWorkComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allCompleteLocked()
}

func (c *Core) drainedLocked() bool {
	return c.inputExhausted &&
		c.pending.Len() == 0 &&
		len(c.issuedAt) == 0 &&
		c.sink.PendingCount() == 0
}

// allCompleteLocked es la versión para el chequeo de fondo: si la entrada
// aún no se marcó agotada, sondea el reader antes de decidir.
func (c *Core) allCompleteLocked() bool {
	if c.pending.Len() != 0 || len(c.issuedAt) != 0 || c.sink.PendingCount() != 0 {
		return false
	}
	if !c.inputExhausted {
		// puede quedar entrada sin leer: se sondea una línea para no
		// declarar fin de trabajo con el archivo a medias
		units, err := c.src.NextBatch(1)
		if err != nil {
			return false
		}
		for _, u := range units {
			c.items[u.WorkID] = &workItem{content: u.Content}
			c.pending.PushBack(u.WorkID)
			c.nextWorkID = u.WorkID + 1
		}
		if len(units) == 0 {
			c.inputExhausted = true
		}
		if c.pending.Len() != 0 {
			return false
		}
	}
	return c.inputExhausted
}
