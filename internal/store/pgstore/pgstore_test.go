package pgstore

import (
	"context"
	"strings"
	"testing"

	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execRecorder captures the statement and arguments handed to Exec so tests
// can check what the store sends to Postgres without a live server.
type execRecorder struct {
	sql  string
	args []any
}

func (recorder *execRecorder) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	recorder.sql = sql
	recorder.args = arguments
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (recorder *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (recorder *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func mustTransactionInput(test *testing.T, destination *coin.AccountID, kind coin.TransactionKind) coin.TransactionInput {
	test.Helper()
	source, err := coin.NewAccountID("3f1c9a52-0000-0000-0000-000000000001")
	if err != nil {
		test.Fatalf("source id: %v", err)
	}
	reason, err := coin.NewReason("Semester credit")
	if err != nil {
		test.Fatalf("reason: %v", err)
	}
	metadata, err := coin.NewMetadataJSON("{}")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	amount, err := coin.NewAmountCents(500)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	input, err := coin.NewTransactionInput("txn-1", source, destination, kind, amount, reason, metadata, 1)
	if err != nil {
		test.Fatalf("transaction input: %v", err)
	}
	return input
}

// Records without a destination send an empty string for the uuid column;
// the statement must cast the nullif result or Postgres rejects the insert
// with a text-to-uuid type mismatch.
func TestAppendTransactionCastsNullDestinationToUUID(test *testing.T) {
	test.Parallel()
	recorder := &execRecorder{}
	store := &Store{conn: recorder}

	input := mustTransactionInput(test, nil, coin.KindCredit)
	if err := store.AppendTransaction(context.Background(), input); err != nil {
		test.Fatalf("append: %v", err)
	}
	if !strings.Contains(recorder.sql, "nullif($3,'')::uuid") {
		test.Fatalf("destination parameter is not cast to uuid:\n%s", recorder.sql)
	}
	if recorder.args[2] != "" {
		test.Fatalf("expected empty destination argument, got %v", recorder.args[2])
	}
}

func TestAppendTransactionPassesDestinationThrough(test *testing.T) {
	test.Parallel()
	recorder := &execRecorder{}
	store := &Store{conn: recorder}

	destination, err := coin.NewAccountID("3f1c9a52-0000-0000-0000-000000000002")
	if err != nil {
		test.Fatalf("destination id: %v", err)
	}
	input := mustTransactionInput(test, &destination, coin.KindTransfer)
	if err := store.AppendTransaction(context.Background(), input); err != nil {
		test.Fatalf("append: %v", err)
	}
	if recorder.args[2] != destination.String() {
		test.Fatalf("expected destination %q, got %v", destination.String(), recorder.args[2])
	}
}
