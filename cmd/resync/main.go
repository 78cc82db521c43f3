package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// resync rewinds a chain checkpoint so the relayer re-scans a block range.
// Already-recorded messages are absorbed by the idempotency ledger on replay,
// so rewinding is safe; pass -prune to drop the ledger rows above the target
// height and force full reprocessing instead.
func main() {
	var (
		chain  = flag.String("chain", "", "chain identifier, e.g. evm:11155111 or near:testnet")
		height = flag.Uint64("height", 0, "block height to rewind the checkpoint to")
		prune  = flag.Bool("prune", false, "also delete processed messages above the target height")
		dsn    = flag.String("dsn", os.Getenv("DATABASE_DSN"), "postgres DSN (defaults to DATABASE_DSN)")
	)
	flag.Parse()

	if *chain == "" {
		log.Fatal("❌ -chain is required")
	}
	if *dsn == "" {
		log.Fatal("❌ -dsn or DATABASE_DSN is required")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("❌ Database unreachable: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("❌ Failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE checkpoints SET last_processed_height = $1, updated_at = NOW() WHERE chain_id = $2 AND last_processed_height > $1`,
		*height, *chain)
	if err != nil {
		log.Fatalf("❌ Failed to rewind checkpoint: %v", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		log.Fatalf("❌ No checkpoint for chain %s above height %d", *chain, *height)
	}

	if *prune {
		res, err = tx.Exec(
			`DELETE FROM processed_messages WHERE chain_id = $1 AND block_height > $2`,
			*chain, *height)
		if err != nil {
			log.Fatalf("❌ Failed to prune processed messages: %v", err)
		}
		pruned, _ := res.RowsAffected()
		fmt.Printf("🧹 Pruned %d processed messages above height %d\n", pruned, *height)
	}

	if err := tx.Commit(); err != nil {
		log.Fatalf("❌ Failed to commit: %v", err)
	}

	fmt.Printf("✅ Checkpoint for %s rewound to height %d\n", *chain, *height)
}
