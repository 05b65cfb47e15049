// Package main provides a small operational CLI for the job store and
// work queue: submit a new analysis job, re-enqueue a stranded pending
// job, or print a job's current state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/portfolio-agents/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/portfolio-agents/internal/config"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
	"github.com/fairyhunter13/portfolio-agents/internal/usecase"
)

func main() {
	var (
		owner       = flag.String("owner", "", "job owner (required for submit)")
		kind        = flag.String("kind", domain.KindPortfolioAnalysis, "job kind")
		payloadFile = flag.String("payload", "", "path to the request payload JSON (- for stdin)")
		get         = flag.String("get", "", "print the job with the given id and exit")
		resubmit    = flag.String("resubmit", "", "re-enqueue the pending job with the given id and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	maxAttempts, maxElapsed := cfg.StoreRetryBudget()
	retrier := postgres.Retrier{MaxAttempts: maxAttempts, MaxElapsed: maxElapsed}
	jobs := postgres.NewJobRepo(pool, retrier)

	producer, err := redpanda.NewProducerWithOptions(cfg.KafkaBrokers, cfg.QueueTopic, "portfolio-agents-submitter")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = producer.Close() }()

	svc := usecase.NewSubmitService(jobs, producer)

	switch {
	case *get != "":
		job, err := svc.Get(ctx, *get)
		if err != nil {
			log.Fatal(err)
		}
		printJob(job)
	case *resubmit != "":
		if err := svc.Resubmit(ctx, *resubmit); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("resubmitted %s\n", *resubmit)
	default:
		if *owner == "" || *payloadFile == "" {
			flag.Usage()
			os.Exit(2)
		}
		payload, err := readPayload(*payloadFile)
		if err != nil {
			log.Fatal(err)
		}
		id, err := svc.Submit(ctx, *owner, *kind, payload)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(id)
	}
}

func readPayload(path string) (json.RawMessage, error) {
	var b []byte
	var err error
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func printJob(j domain.Job) {
	out := map[string]any{
		"id":      j.ID,
		"owner":   j.Owner,
		"kind":    j.Kind,
		"status":  j.Status,
		"created": j.CreatedAt,
	}
	if j.ErrorMessage != "" {
		out["error_message"] = j.ErrorMessage
	}
	if j.Summary != nil {
		out["summary"] = j.Summary
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
