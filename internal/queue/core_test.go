package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineq/internal/reader"
	"lineq/internal/writer"
	"lineq/pkg/types"
)

func newCore(t *testing.T, cfg Config, inputLines ...string) (*Core, string) {
	t.Helper()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "input.txt")
	outPath := filepath.Join(dir, "output.txt")

	content := ""
	if len(inputLines) > 0 {
		content = strings.Join(inputLines, "\n") + "\n"
	}
	require.NoError(t, os.WriteFile(inPath, []byte(content), 0o644))

	r, err := reader.Open(inPath)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	w, err := writer.Open(outPath)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return New(r, w, cfg, 0), outPath
}

func output(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func TestHappyPath(t *testing.T) {
	c, out := newCore(t, Config{}, "alpha", "beta", "gamma")

	res, err := c.Issue(3)
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, res.Status)
	require.Len(t, res.Items, 3)

	results := make([]types.ResultItem, 0, 3)
	for _, it := range res.Items {
		results = append(results, types.ResultItem{WorkID: it.WorkID, Result: reverse(it.Content)})
	}
	n, err := c.Submit(results)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "ahpla\nateb\nammag\n", output(t, out))

	// el siguiente get_work descubre el EOF y cierra el ciclo
	res, err = c.Issue(1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAllWorkComplete, res.Status)

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.Completed)
	assert.True(t, snap.InputExhausted)
	assert.Equal(t, 0, snap.Pending)
	assert.Equal(t, 0, snap.Issued)
}

func TestOutOfOrderSubmits(t *testing.T) {
	c, out := newCore(t, Config{}, "alpha", "beta")

	resA, err := c.Issue(1)
	require.NoError(t, err)
	require.Len(t, resA.Items, 1)
	resB, err := c.Issue(1)
	require.NoError(t, err)
	require.Len(t, resB.Items, 1)

	// el segundo worker termina primero: nada se escribe todavía
	n, err := c.Submit([]types.ResultItem{{WorkID: 1, Result: "ateb"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "", output(t, out))

	n, err = c.Submit([]types.ResultItem{{WorkID: 0, Result: "ahpla"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ahpla\nateb\n", output(t, out))
}

func TestRetryWhileWorkOutstanding(t *testing.T) {
	c, _ := newCore(t, Config{RetryBackoff: 7}, "alpha")

	res, err := c.Issue(5)
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, res.Status)

	res, err = c.Issue(5)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRetry, res.Status)
	assert.Equal(t, 7, res.RetryIn)
}

func TestTimeoutRequeuesAtTail(t *testing.T) {
	c, out := newCore(t, Config{WorkTimeout: 2 * time.Second, MaxRetries: DefaultMaxRetries}, "alpha", "beta", "gamma")

	res, err := c.Issue(1)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Items[0].WorkID)

	// aún no expira
	require.NoError(t, c.SweepTimeouts(time.Now().Add(1*time.Second)))
	assert.Equal(t, 1, c.Snapshot().Issued)

	require.NoError(t, c.SweepTimeouts(time.Now().Add(3*time.Second)))
	snap := c.Snapshot()
	assert.Equal(t, 0, snap.Issued)
	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, int64(1), snap.ExpiredReissues)

	// lo reencolado se sirve antes de leer líneas nuevas
	res, err = c.Issue(2)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(0), res.Items[0].WorkID)

	n, err := c.Submit([]types.ResultItem{{WorkID: 0, Result: "ahpla"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ahpla\n", output(t, out))
}

func TestLateSubmitAfterRequeueDiscarded(t *testing.T) {
	c, out := newCore(t, Config{WorkTimeout: time.Second}, "alpha")

	_, err := c.Issue(1)
	require.NoError(t, err)
	require.NoError(t, c.SweepTimeouts(time.Now().Add(2*time.Second)))

	// el item ya no está emitido (espera reemisión): el envío tardío se ignora
	n, err := c.Submit([]types.ResultItem{{WorkID: 0, Result: "tardío"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "", output(t, out))

	res, err := c.Issue(1)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	n, err = c.Submit([]types.ResultItem{{WorkID: 0, Result: "bueno"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "bueno\n", output(t, out))
}

func TestConcurrentSubmitIdempotence(t *testing.T) {
	c, out := newCore(t, Config{WorkTimeout: time.Second, MaxRetries: DefaultMaxRetries}, "alpha")

	_, err := c.Issue(1)
	require.NoError(t, err)
	require.NoError(t, c.SweepTimeouts(time.Now().Add(2*time.Second)))

	// reemisión a un segundo worker
	res, err := c.Issue(1)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	n, err := c.Submit([]types.ResultItem{{WorkID: 0, Result: "ganador"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// el worker lento llega después: count=0 y nada cambia en disco
	n, err = c.Submit([]types.ResultItem{{WorkID: 0, Result: "perdedor"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "ganador\n", output(t, out))
}

func TestDuplicateWithinBatch(t *testing.T) {
	c, out := newCore(t, Config{}, "alpha")

	_, err := c.Issue(1)
	require.NoError(t, err)

	n, err := c.Submit([]types.ResultItem{
		{WorkID: 0, Result: "primero"},
		{WorkID: 0, Result: "segundo"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "primero\n", output(t, out))
}

func TestSubmitUnknownIDDiscarded(t *testing.T) {
	c, _ := newCore(t, Config{}, "alpha")

	n, err := c.Submit([]types.ResultItem{{WorkID: 99, Result: "fantasma"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTombstoneAfterMaxRetries(t *testing.T) {
	c, out := newCore(t, Config{WorkTimeout: time.Second, MaxRetries: 1}, "bad", "good")

	// primera emisión y primer timeout: reencola (retry 1 de 1)
	_, err := c.Issue(1)
	require.NoError(t, err)
	require.NoError(t, c.SweepTimeouts(time.Now().Add(2*time.Second)))
	assert.Equal(t, 1, c.Snapshot().Pending)

	// segunda emisión y segundo timeout: supera el presupuesto
	_, err = c.Issue(1)
	require.NoError(t, err)
	require.NoError(t, c.SweepTimeouts(time.Now().Add(4*time.Second)))

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.Tombstoned)
	assert.Equal(t, int64(1), snap.Completed)
	assert.Equal(t, `{"__ERROR__":{"error":"max_retries_exceeded","work_id":0,"original_content":"bad"}}`+"\n", output(t, out))

	// el item enterrado no vuelve a emitirse; sigue la línea siguiente
	res, err := c.Issue(1)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(1), res.Items[0].WorkID)
	assert.Equal(t, "good", res.Items[0].Content)

	n, err := c.Submit([]types.ResultItem{{WorkID: 1, Result: "doog"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, `{"__ERROR__":{"error":"max_retries_exceeded","work_id":0,"original_content":"bad"}}`+"\ndoog\n", output(t, out))
}

func TestShorteningTimeoutRequeuesStaleWork(t *testing.T) {
	c, _ := newCore(t, Config{WorkTimeout: 600 * time.Second, MaxRetries: DefaultMaxRetries}, "alpha")

	_, err := c.Issue(1)
	require.NoError(t, err)

	require.NoError(t, c.SweepTimeouts(time.Now().Add(10*time.Second)))
	assert.Equal(t, 1, c.Snapshot().Issued)

	c.SetWorkTimeout(1)
	require.NoError(t, c.SweepTimeouts(time.Now().Add(10*time.Second)))
	snap := c.Snapshot()
	assert.Equal(t, 0, snap.Issued)
	assert.Equal(t, 1, snap.Pending)
}

func TestAllWorkCompleteProbesReader(t *testing.T) {
	c, _ := newCore(t, Config{}, "alpha")

	res, err := c.Issue(1)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	assert.False(t, c.AllWorkComplete())

	_, err = c.Submit([]types.ResultItem{{WorkID: 0, Result: "ahpla"}})
	require.NoError(t, err)

	// sin más get_work: el chequeo debe descubrir el EOF por sí mismo
	assert.True(t, c.AllWorkComplete())
}

func TestEmptyInput(t *testing.T) {
	c, _ := newCore(t, Config{})

	res, err := c.Issue(4)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAllWorkComplete, res.Status)
	assert.True(t, c.AllWorkComplete())
}

func TestResumeSkipsCompletedLines(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "input.txt")
	outPath := filepath.Join(dir, "output.txt")
	require.NoError(t, os.WriteFile(inPath, []byte("a\nb\nc\nd\n"), 0o644))
	require.NoError(t, os.WriteFile(outPath, []byte("a-res\nb-res\n"), 0o644))

	w, err := writer.Open(outPath)
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, int64(2), w.ResumePosition())

	r, err := reader.Open(inPath)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Skip(w.ResumePosition()))

	c := New(r, w, Config{}, w.ResumePosition())

	res, err := c.Issue(10)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, int64(2), res.Items[0].WorkID)
	assert.Equal(t, "c", res.Items[0].Content)
	assert.Equal(t, int64(3), res.Items[1].WorkID)

	n, err := c.Submit([]types.ResultItem{
		{WorkID: 2, Result: "c-res"},
		{WorkID: 3, Result: "d-res"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "a-res\nb-res\nc-res\nd-res\n", output(t, outPath))
	assert.True(t, c.AllWorkComplete())
}
