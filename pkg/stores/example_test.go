package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/stores"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_FindBest demonstrates candidate ranking with exclusions.
func ExampleSQLiteStore_FindBest() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	for _, c := range []*stores.CandidateRecord{
		{TenantID: "tenant-1", ID: "D-100", Name: "Ana", Capacity: 44},
		{TenantID: "tenant-1", ID: "D-200", Name: "Ben", Capacity: 48},
	} {
		if err := store.UpsertCandidate(ctx, c); err != nil {
			log.Fatal(err)
		}
	}

	best, _ := store.FindBest(ctx, workflow.ProposalRequest{TenantID: "tenant-1"})
	next, _ := store.FindBest(ctx, workflow.ProposalRequest{
		TenantID: "tenant-1",
		Excluded: workflow.NewExclusionSet(best.ID),
	})

	fmt.Println(best.ID, next.ID)
	// Output: D-200 D-100
}
