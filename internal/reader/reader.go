package reader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"lineq/pkg/types"
)

// Reader recorre el archivo de entrada línea por línea y asigna los
// work_id. Es la única autoridad sobre la numeración de líneas.
type Reader struct {
	mu     sync.Mutex
	f      *os.File
	br     *bufio.Reader
	cursor int64 // líneas ya emitidas (o saltadas)
	eof    bool
}

// Open abre el archivo de entrada en modo lectura.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reader: abrir entrada: %w", err)
	}
	return &Reader{f: f, br: bufio.NewReader(f)}, nil
}

// NextBatch lee hasta n líneas más y las devuelve numeradas. Devuelve menos
// de n (posiblemente cero) cuando se alcanza el final del archivo.
func (r *Reader) NextBatch(n int) ([]types.WorkUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	units := make([]types.WorkUnit, 0, n)
	for len(units) < n && !r.eof {
		line, err := r.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return units, fmt.Errorf("reader: leer línea %d: %w", r.cursor, err)
		}
		if err == io.EOF {
			r.eof = true
			if line == "" {
				break
			}
		}
		units = append(units, types.WorkUnit{
			WorkID:  r.cursor,
			Content: stripNewline(line),
		})
		r.cursor++
	}
	return units, nil
}

// Skip descarta las primeras k líneas sin materializarlas. Se llama una sola
// vez al arrancar, con la posición de reanudación que reporta el writer.
func (r *Reader) Skip(k int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor != 0 {
		return fmt.Errorf("reader: skip con cursor en %d", r.cursor)
	}
	for i := int64(0); i < k; i++ {
		line, err := r.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reader: saltar línea %d: %w", i, err)
		}
		if err == io.EOF {
			if line != "" {
				r.cursor++
			}
			r.eof = true
			if r.cursor != k {
				return fmt.Errorf("reader: la entrada tiene %d líneas, no se pueden saltar %d", r.cursor, k)
			}
			return nil
		}
		r.cursor++
	}
	return nil
}

// Cursor devuelve cuántas líneas se han emitido o saltado hasta ahora.
func (r *Reader) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// EOF indica si ya se agotó el archivo de entrada.
func (r *Reader) EOF() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eof
}

func (r *Reader) Close() error {
	return r.f.Close()
}

func stripNewline(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
