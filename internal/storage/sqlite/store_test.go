package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/openpool/grantgate/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "grantgate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testTime() time.Time {
	return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func testRecipient(id string) storage.RecipientRecord {
	return storage.RecipientRecord{
		PoolID:        "pool-1",
		ID:            id,
		PayoutAddress: "addr-" + id,
		GrantAmount:   100,
		Status:        "pending",
		CreatedAt:     testTime(),
		UpdatedAt:     testTime(),
	}
}

func putTestRecipient(t *testing.T, store *Store, record storage.RecipientRecord) {
	t.Helper()
	err := store.InTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.PutRecipient(context.Background(), record)
	})
	if err != nil {
		t.Fatalf("put recipient: %v", err)
	}
}

func TestPutGetPool(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record := storage.PoolRecord{
		ID:                       "pool-1",
		RegistrationGated:        true,
		MetadataRequired:         true,
		AllocationOverrideCapped: true,
		CreatedAt:                testTime(),
	}
	if err := store.PutPool(ctx, record); err != nil {
		t.Fatalf("put pool: %v", err)
	}

	got, err := store.GetPool(ctx, "pool-1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if !got.RegistrationGated || !got.MetadataRequired || !got.AllocationOverrideCapped {
		t.Fatalf("unexpected pool flags: %+v", got)
	}
	if got.SelfDistributionAllowed || got.ManagerMilestones {
		t.Fatalf("unexpected pool flags: %+v", got)
	}
	if !got.CreatedAt.Equal(testTime()) {
		t.Fatalf("expected created at %v, got %v", testTime(), got.CreatedAt)
	}

	if _, err := store.GetPool(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPutPoolIsImmutable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record := storage.PoolRecord{ID: "pool-1", RegistrationGated: true, CreatedAt: testTime()}
	if err := store.PutPool(ctx, record); err != nil {
		t.Fatalf("put pool: %v", err)
	}

	record.RegistrationGated = false
	if err := store.PutPool(ctx, record); err != nil {
		t.Fatalf("re-put pool: %v", err)
	}

	got, err := store.GetPool(ctx, "pool-1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if !got.RegistrationGated {
		t.Fatal("expected original pool config preserved")
	}
}

func TestPutGetRecipient(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record := testRecipient("alice")
	record.MetadataProtocol = 1
	record.MetadataPointer = "doc-1"
	putTestRecipient(t, store, record)

	got, err := store.GetRecipient(ctx, "pool-1", "alice")
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.PayoutAddress != "addr-alice" {
		t.Fatalf("expected payout address addr-alice, got %s", got.PayoutAddress)
	}
	if got.GrantAmount != 100 {
		t.Fatalf("expected grant amount 100, got %d", got.GrantAmount)
	}
	if got.MetadataProtocol != 1 || got.MetadataPointer != "doc-1" {
		t.Fatalf("unexpected metadata: %d %s", got.MetadataProtocol, got.MetadataPointer)
	}

	if _, err := store.GetRecipient(ctx, "pool-1", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListRecipientsPaging(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		putTestRecipient(t, store, testRecipient(fmt.Sprintf("recipient-%d", i)))
	}

	page, err := store.ListRecipients(ctx, "pool-1", 2, "")
	if err != nil {
		t.Fatalf("list recipients: %v", err)
	}
	if len(page.Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(page.Recipients))
	}
	if page.NextPageToken == "" {
		t.Fatal("expected next page token")
	}

	var seen []string
	for _, rec := range page.Recipients {
		seen = append(seen, rec.ID)
	}
	token := page.NextPageToken
	for token != "" {
		page, err = store.ListRecipients(ctx, "pool-1", 2, token)
		if err != nil {
			t.Fatalf("list recipients page: %v", err)
		}
		for _, rec := range page.Recipients {
			seen = append(seen, rec.ID)
		}
		token = page.NextPageToken
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 recipients total, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("expected sorted ids, got %v", seen)
		}
	}
}

func TestReplaceMilestones(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putTestRecipient(t, store, testRecipient("alice"))

	first := []storage.MilestoneRecord{
		{MilestoneIndex: 0, AmountPercentage: 60, Status: "pending", CreatedAt: testTime(), UpdatedAt: testTime()},
		{MilestoneIndex: 1, AmountPercentage: 40, Status: "pending", CreatedAt: testTime(), UpdatedAt: testTime()},
		{MilestoneIndex: 2, AmountPercentage: 0, Status: "pending", CreatedAt: testTime(), UpdatedAt: testTime()},
	}
	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.ReplaceMilestones(ctx, "pool-1", "alice", first)
	})
	if err != nil {
		t.Fatalf("replace milestones: %v", err)
	}

	second := []storage.MilestoneRecord{
		{MilestoneIndex: 0, AmountPercentage: 100, Status: "pending", CreatedAt: testTime(), UpdatedAt: testTime()},
	}
	err = store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.ReplaceMilestones(ctx, "pool-1", "alice", second)
	})
	if err != nil {
		t.Fatalf("replace milestones again: %v", err)
	}

	records, err := store.ListMilestones(ctx, "pool-1", "alice")
	if err != nil {
		t.Fatalf("list milestones: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected replacement schedule of 1, got %d", len(records))
	}
	if records[0].AmountPercentage != 100 {
		t.Fatalf("expected percentage 100, got %d", records[0].AmountPercentage)
	}
}

func TestMarkMilestonesPaidOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putTestRecipient(t, store, testRecipient("alice"))
	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.ReplaceMilestones(ctx, "pool-1", "alice", []storage.MilestoneRecord{
			{MilestoneIndex: 0, AmountPercentage: 100, Status: "accepted", Submitted: true, CreatedAt: testTime(), UpdatedAt: testTime()},
		})
	})
	if err != nil {
		t.Fatalf("replace milestones: %v", err)
	}

	err = store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.MarkMilestonesPaid(ctx, "pool-1", "alice", []int{0}, testTime())
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	err = store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.MarkMilestonesPaid(ctx, "pool-1", "alice", []int{0}, testTime())
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict on double pay, got %v", err)
	}
}

func TestAddPaidAmountEnforcesGrantBound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putTestRecipient(t, store, testRecipient("alice"))

	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.AddPaidAmount(ctx, "pool-1", "alice", 60, testTime())
	})
	if err != nil {
		t.Fatalf("add paid amount: %v", err)
	}

	err = store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.AddPaidAmount(ctx, "pool-1", "alice", 50, testTime())
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict past grant amount, got %v", err)
	}

	got, err := store.GetRecipient(ctx, "pool-1", "alice")
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.PaidAmount != 60 {
		t.Fatalf("expected paid amount 60, got %d", got.PaidAmount)
	}
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putTestRecipient(t, store, testRecipient("alice"))

	failure := errors.New("custody unavailable")
	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		record := testRecipient("alice")
		record.Status = "accepted"
		if err := tx.PutRecipient(ctx, record); err != nil {
			return err
		}
		if err := tx.AddPaidAmount(ctx, "pool-1", "alice", 100, testTime()); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected callback error, got %v", err)
	}

	got, err := store.GetRecipient(ctx, "pool-1", "alice")
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.Status != "pending" {
		t.Fatalf("expected rollback to pending, got %s", got.Status)
	}
	if got.PaidAmount != 0 {
		t.Fatalf("expected rollback of paid amount, got %d", got.PaidAmount)
	}
}

func TestDistributionsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		return tx.PutDistribution(ctx, storage.DistributionRecord{
			ID:               "dist-1",
			PoolID:           "pool-1",
			RecipientID:      "alice",
			PayoutAddress:    "addr-alice",
			Amount:           50,
			MilestoneIndexes: []int{0, 2},
			CreatedAt:        testTime(),
		})
	})
	if err != nil {
		t.Fatalf("put distribution: %v", err)
	}

	page, err := store.ListDistributions(ctx, "pool-1", "alice", 10, "")
	if err != nil {
		t.Fatalf("list distributions: %v", err)
	}
	if len(page.Distributions) != 1 {
		t.Fatalf("expected 1 distribution, got %d", len(page.Distributions))
	}
	got := page.Distributions[0]
	if got.Amount != 50 {
		t.Fatalf("expected amount 50, got %d", got.Amount)
	}
	if len(got.MilestoneIndexes) != 2 || got.MilestoneIndexes[0] != 0 || got.MilestoneIndexes[1] != 2 {
		t.Fatalf("expected indexes [0 2], got %v", got.MilestoneIndexes)
	}

	page, err = store.ListDistributions(ctx, "pool-1", "bob", 10, "")
	if err != nil {
		t.Fatalf("list distributions for other recipient: %v", err)
	}
	if len(page.Distributions) != 0 {
		t.Fatalf("expected no distributions for bob, got %d", len(page.Distributions))
	}
}

func TestEventsOutbox(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		eventID := fmt.Sprintf("event-%d", i)
		err := store.InTransaction(ctx, func(tx storage.Tx) error {
			return tx.AppendEvent(ctx, storage.EventRecord{
				ID:          eventID,
				PoolID:      "pool-1",
				EventType:   "registered",
				RecipientID: "alice",
				PayloadJSON: `{"recipientId":"alice"}`,
				CreatedAt:   testTime().Add(time.Duration(i) * time.Second),
			})
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	page, err := store.ListEvents(ctx, "pool-1", 10, "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(page.Events))
	}
	if page.Events[0].ProcessedAt != nil {
		t.Fatal("expected unprocessed event")
	}

	if err := store.MarkEventsProcessed(ctx, []string{"event-0", "event-1"}, testTime()); err != nil {
		t.Fatalf("mark events processed: %v", err)
	}
	if err := store.MarkEventsProcessed(ctx, []string{"event-0"}, testTime()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected already processed event to report not found, got %v", err)
	}

	page, err = store.ListEvents(ctx, "pool-1", 10, "")
	if err != nil {
		t.Fatalf("list events after processing: %v", err)
	}
	if page.Events[0].ProcessedAt == nil || page.Events[1].ProcessedAt == nil {
		t.Fatal("expected first two events processed")
	}
	if page.Events[2].ProcessedAt != nil {
		t.Fatal("expected third event unprocessed")
	}
}
