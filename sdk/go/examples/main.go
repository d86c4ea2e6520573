package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"MerkleBatch-Chain/internal/api"
	"MerkleBatch-Chain/internal/batch"
	"MerkleBatch-Chain/internal/service"
	"MerkleBatch-Chain/internal/txn"
	"MerkleBatch-Chain/sdk/go/merklebatch"
)

func main() {
	svc := service.New(batch.NewEngine())
	srv := httptest.NewServer(api.NewServer(":0", svc).Handler())
	defer srv.Close()

	client, err := merklebatch.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var records [][]byte
	for _, r := range txn.SignBatch(txn.DemoBatch(batch.DefaultBatchSize)) {
		records = append(records, r)
	}

	commitment, err := client.Commit(ctx, records)
	if err != nil {
		panic(err)
	}
	fmt.Printf("committed root %s\n", commitment.Root.Hex())

	outcome, err := client.Execute(ctx, records, commitment.Proofs)
	if err != nil {
		panic(err)
	}
	fmt.Printf("batch %s executed=%v count=%d\n", outcome.BatchID, outcome.Executed, outcome.Count)

	for _, entry := range outcome.Entries {
		fmt.Printf("  #%d %s\n", entry.Seq, string(entry.Record))
	}
}
