package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"lineq/pkg/client"
	"lineq/pkg/styles"
	"lineq/pkg/types"
)

// Worker de ejemplo: pide lotes al dispatcher, invierte cada línea y
// devuelve los resultados. Sirve como plantilla para workers reales.
func main() {
	server := flag.String("server", envString("DISPATCHER_ADDR", "http://127.0.0.1:8000"), "URL del dispatcher")
	batchSize := flag.Int("batch-size", 8, "items por get_work")
	maxUnavailable := flag.Int("max-unavailable", 5, "intentos seguidos sin servidor antes de salir")
	flag.Parse()

	cli := client.New(*server)
	ctx := context.Background()

	styles.PrintFS("info", "[WORKER] Conectando a %s", *server)

	unavailable := 0
	for {
		resp, err := cli.GetWork(ctx, *batchSize)
		if err != nil {
			log.Fatal(styles.SprintfS("error", "[WORKER] get_work: %v", err))
		}

		switch resp.Status {
		case types.StatusAllWorkComplete:
			styles.PrintFS("success", "[WORKER] Trabajo completo, saliendo")
			return
		case types.StatusRetry:
			log.Printf("[WORKER] Sin trabajo disponible, reintento en %ds", resp.RetryIn)
			time.Sleep(time.Duration(resp.RetryIn) * time.Second)
			continue
		case types.StatusServerUnavailable:
			unavailable++
			if unavailable > *maxUnavailable {
				styles.PrintFS("error", "[WORKER] Servidor inaccesible tras %d intentos", unavailable)
				os.Exit(1)
			}
			time.Sleep(5 * time.Second)
			continue
		}
		unavailable = 0

		results := make([]types.ResultItem, 0, len(resp.Items))
		for _, it := range resp.Items {
			results = append(results, types.ResultItem{
				WorkID: it.WorkID,
				Result: process(it.Content),
			})
		}

		sres, err := cli.SubmitResults(ctx, results)
		if err != nil {
			log.Fatal(styles.SprintfS("error", "[WORKER] submit_result: %v", err))
		}
		if sres.Status == types.StatusServerUnavailable {
			// los items emitidos expirarán y otro worker los rehará
			styles.PrintFS("warn", "[WORKER] Servidor caído durante el envío, resultados perdidos")
			time.Sleep(5 * time.Second)
			continue
		}
		log.Printf("[WORKER] worker_id=%s enviados=%d aceptados=%d", cli.WorkerID(), len(results), sres.Count)
	}
}

// process es el trabajo de ejemplo: invierte la línea. Un worker real
// sustituye esto por su transformación (el resultado no puede llevar \n).
func process(content string) string {
	runes := []rune(content)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return strings.ReplaceAll(string(runes), "\n", " ")
}
