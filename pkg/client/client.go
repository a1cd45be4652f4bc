package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lineq/pkg/types"
)

// Client es la biblioteca que usan los workers para hablar con el
// dispatcher. Cuando no consigue conectar sintetiza SERVER_UNAVAILABLE en
// el status, para que el bucle del worker lo trate como un estado más en
// vez de como un error.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu       sync.Mutex
	workerID string // asignado por el servidor en el primer get_work
}

func New(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WorkerID devuelve el ID que asignó el servidor, o "" si aún no hay.
func (c *Client) WorkerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerID
}

// GetWork pide un lote de hasta batchSize items.
func (c *Client) GetWork(ctx context.Context, batchSize int) (*types.GetWorkResponse, error) {
	req := types.GetWorkRequest{BatchSize: batchSize, WorkerID: c.WorkerID()}
	var resp types.GetWorkResponse
	ok, err := c.post(ctx, "/get_work", req, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.GetWorkResponse{Status: types.StatusServerUnavailable}, nil
	}
	if resp.WorkerID != "" {
		c.mu.Lock()
		c.workerID = resp.WorkerID
		c.mu.Unlock()
	}
	return &resp, nil
}

// SubmitResults entrega resultados terminados. Count en la respuesta indica
// cuántos aceptó realmente el servidor.
func (c *Client) SubmitResults(ctx context.Context, items []types.ResultItem) (*types.SubmitResponse, error) {
	req := types.SubmitRequest{Items: items, WorkerID: c.WorkerID()}
	var resp types.SubmitResponse
	ok, err := c.post(ctx, "/submit_result", req, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.SubmitResponse{Status: types.StatusServerUnavailable}, nil
	}
	return &resp, nil
}

// SetWorkTimeout cambia el timeout de trabajo del servidor en caliente.
func (c *Client) SetWorkTimeout(ctx context.Context, seconds int) (*types.TimeoutResponse, error) {
	req := types.TimeoutRequest{Timeout: seconds}
	var resp types.TimeoutResponse
	ok, err := c.post(ctx, "/work_timeout", req, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.TimeoutResponse{Status: types.StatusServerUnavailable}, nil
	}
	return &resp, nil
}

// Status consulta los contadores del dispatcher. A diferencia de los demás
// métodos no sintetiza SERVER_UNAVAILABLE: si no puede conectar devuelve error.
func (c *Client) Status(ctx context.Context) (*types.StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("client: construir petición: %w", err)
	}
	res, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client: status: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: status devolvió %d", res.StatusCode)
	}
	var resp types.StatusResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("client: decodificar status: %w", err)
	}
	return &resp, nil
}

// post envía un JSON y decodifica la respuesta. Devuelve ok=false cuando el
// servidor no está accesible; error para respuestas malformadas, códigos
// inesperados o un contexto cancelado o vencido.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) (bool, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("client: serializar petición: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("client: construir petición: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil // servidor no accesible
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return false, fmt.Errorf("client: %s devolvió %d: %s", path, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return false, fmt.Errorf("client: decodificar respuesta de %s: %w", path, err)
	}
	return true, nil
}
