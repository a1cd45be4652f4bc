package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lineq/internal/health"
	"lineq/internal/httpserver"
	"lineq/internal/monitoring"
	"lineq/internal/queue"
	"lineq/internal/reader"
	"lineq/internal/writer"
	"lineq/pkg/styles"
)

func main() {
	infile := flag.String("infile", "", "archivo de entrada, una línea por item")
	outfile := flag.String("outfile", "", "archivo de salida, línea n = resultado del item n")
	host := flag.String("host", envString("DISPATCHER_HOST", "127.0.0.1"), "dirección de escucha")
	port := flag.Int("port", envInt("DISPATCHER_PORT", 8000), "puerto de escucha")
	workTimeout := flag.Int("work-timeout", envInt("DISPATCHER_WORK_TIMEOUT", 600), "segundos antes de reencolar trabajo emitido")
	maxRetries := flag.Int("max-retries", envInt("DISPATCHER_MAX_RETRIES", 3), "timeouts permitidos antes del tombstone")
	retryBackoff := flag.Int("retry-backoff", envInt("DISPATCHER_RETRY_BACKOFF", 30), "segundos de espera sugeridos en RETRY")
	grace := flag.Int("grace-period", 3, "segundos de gracia tras completar todo el trabajo")
	flag.Parse()

	if *infile == "" || *outfile == "" {
		fmt.Fprintln(os.Stderr, "uso: dispatcher-server --infile <path> --outfile <path> [--host] [--port] [--work-timeout] [--max-retries]")
		os.Exit(2)
	}

	w, err := writer.Open(*outfile)
	if err != nil {
		log.Fatal(styles.SprintfS("error", "[SERVER] %v", err))
	}
	defer w.Close()

	r, err := reader.Open(*infile)
	if err != nil {
		log.Fatal(styles.SprintfS("error", "[SERVER] %v", err))
	}
	defer r.Close()

	resume := w.ResumePosition()
	if resume > 0 {
		styles.PrintFS("info", "[SERVER] Reanudando: %d líneas ya escritas, saltando entrada", resume)
	}
	if err := r.Skip(resume); err != nil {
		log.Fatal(styles.SprintfS("error", "[SERVER] %v", err))
	}

	core := queue.New(r, w, queue.Config{
		WorkTimeout:  time.Duration(*workTimeout) * time.Second,
		MaxRetries:   *maxRetries,
		RetryBackoff: *retryBackoff,
	}, resume)

	registry := monitoring.NewRegistry()
	srv := httpserver.New(
		core,
		registry,
		health.NewService(core, *infile, *outfile),
		monitoring.NewService(core, registry),
		httpserver.Config{Grace: time.Duration(*grace) * time.Second},
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		styles.PrintFS("warn", "[SERVER] Señal %s recibida, apagando", s)
		srv.Stop()
	}()

	styles.PrintFS("info", "[SERVER] infile=%s outfile=%s work_timeout=%ds max_retries=%d",
		*infile, *outfile, *workTimeout, *maxRetries)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	if err := srv.Run(addr); err != nil {
		log.Fatal(styles.SprintfS("error", "[SERVER] Error fatal: %v", err))
	}
	styles.PrintFS("success", "[SERVER] Proceso terminado, salida en %s", *outfile)
}
