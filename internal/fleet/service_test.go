package fleet

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fleetgate/fleetgate-core/internal/infrastructure/config"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
)

// testDB creates a temporary SQLite database with the fleet schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "fleet-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	schemaSQL := `
		CREATE TABLE fleets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE regulators (
			id TEXT PRIMARY KEY,
			serial_number TEXT NOT NULL UNIQUE,
			fleet_id TEXT,
			owner_user_id TEXT,
			status TEXT NOT NULL DEFAULT 'available',
			checked_out_by TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE rentals (
			id TEXT PRIMARY KEY,
			regulator_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			checked_out_at TEXT NOT NULL,
			checked_in_at TEXT
		) STRICT;
	`
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("applying fleet schema: %v", err)
	}

	return db
}

// capturePublisher records broadcast events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Type     string
	Payload  any
	Channels []string
}

func (p *capturePublisher) Broadcast(eventType string, payload any, channels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{Type: eventType, Payload: payload, Channels: channels})
}

func (p *capturePublisher) last(t *testing.T) capturedEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		t.Fatal("no events broadcast")
	}
	return p.events[len(p.events)-1]
}

func testService(t *testing.T, db *sql.DB) (*Service, *SQLiteRepository, *capturePublisher) {
	t.Helper()

	repo := NewRepository(db)
	pub := &capturePublisher{}
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	return NewService(repo, pub, logger), repo, pub
}

func seedRegulator(t *testing.T, repo *SQLiteRepository, serial, fleetID, ownerID string) *Regulator {
	t.Helper()

	reg := &Regulator{
		SerialNumber: serial,
		FleetID:      fleetID,
		OwnerUserID:  ownerID,
	}
	if err := repo.CreateRegulator(t.Context(), reg); err != nil {
		t.Fatalf("creating regulator %s: %v", serial, err)
	}
	return reg
}

func TestService_CheckoutCheckin(t *testing.T) {
	db := testDB(t)
	svc, repo, pub := testService(t, db)
	ctx := context.Background()

	reg := seedRegulator(t, repo, "SN-001", "fleet-1", "")

	rental, err := svc.Checkout(ctx, reg.ID, "usr-1")
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if rental.ID == "" {
		t.Fatal("rental should have an ID")
	}

	got, err := repo.GetRegulator(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegulator() error = %v", err)
	}
	if got.Status != StatusCheckedOut {
		t.Errorf("status = %q, want %q", got.Status, StatusCheckedOut)
	}
	if got.CheckedOutBy != "usr-1" {
		t.Errorf("checked_out_by = %q, want usr-1", got.CheckedOutBy)
	}

	ev := pub.last(t)
	if ev.Type != EventCheckedOut {
		t.Errorf("event type = %q, want %q", ev.Type, EventCheckedOut)
	}
	if len(ev.Channels) != 2 {
		t.Errorf("channels = %v, want regulator and fleet channels", ev.Channels)
	}

	closed, err := svc.Checkin(ctx, reg.ID)
	if err != nil {
		t.Fatalf("Checkin() error = %v", err)
	}
	if closed.ID != rental.ID {
		t.Errorf("closed rental = %q, want %q", closed.ID, rental.ID)
	}
	if closed.CheckedInAt == nil {
		t.Error("closed rental should have a check-in time")
	}

	got, err = repo.GetRegulator(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegulator() error = %v", err)
	}
	if got.Status != StatusAvailable {
		t.Errorf("status after checkin = %q, want %q", got.Status, StatusAvailable)
	}
	if got.CheckedOutBy != "" {
		t.Errorf("checked_out_by after checkin = %q, want empty", got.CheckedOutBy)
	}

	if ev := pub.last(t); ev.Type != EventCheckedIn {
		t.Errorf("event type = %q, want %q", ev.Type, EventCheckedIn)
	}
}

func TestService_CheckoutUnavailable(t *testing.T) {
	db := testDB(t)
	svc, repo, _ := testService(t, db)
	ctx := context.Background()

	reg := seedRegulator(t, repo, "SN-002", "fleet-1", "")

	if _, err := svc.Checkout(ctx, reg.ID, "usr-1"); err != nil {
		t.Fatalf("first Checkout() error = %v", err)
	}

	if _, err := svc.Checkout(ctx, reg.ID, "usr-2"); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("double Checkout() error = %v, want ErrNotAvailable", err)
	}

	if err := svc.SetStatus(ctx, reg.ID, StatusMaintenance); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	// Maintenance also blocks checkout, but only after the open rental is
	// closed; close it first.
	if _, err := svc.Checkin(ctx, reg.ID); err != nil {
		t.Fatalf("Checkin() error = %v", err)
	}
	if err := svc.SetStatus(ctx, reg.ID, StatusMaintenance); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if _, err := svc.Checkout(ctx, reg.ID, "usr-2"); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("maintenance Checkout() error = %v, want ErrNotAvailable", err)
	}
}

func TestService_CheckinWithoutRental(t *testing.T) {
	db := testDB(t)
	svc, repo, _ := testService(t, db)
	ctx := context.Background()

	reg := seedRegulator(t, repo, "SN-003", "fleet-1", "")

	if _, err := svc.Checkin(ctx, reg.ID); !errors.Is(err, ErrNotCheckedOut) {
		t.Errorf("Checkin() error = %v, want ErrNotCheckedOut", err)
	}
}

func TestService_CheckoutMissingRegulator(t *testing.T) {
	db := testDB(t)
	svc, _, _ := testService(t, db)

	if _, err := svc.Checkout(context.Background(), "reg-missing", "usr-1"); !errors.Is(err, ErrRegulatorNotFound) {
		t.Errorf("Checkout() error = %v, want ErrRegulatorNotFound", err)
	}
}

func TestService_SetStatus(t *testing.T) {
	db := testDB(t)
	svc, repo, pub := testService(t, db)
	ctx := context.Background()

	reg := seedRegulator(t, repo, "SN-004", "", "usr-owner")

	if err := svc.SetStatus(ctx, reg.ID, StatusOffline); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	got, err := repo.GetRegulator(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegulator() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("status = %q, want %q", got.Status, StatusOffline)
	}

	// Owner-held unit has no fleet channel.
	ev := pub.last(t)
	if ev.Type != EventStatusChanged {
		t.Errorf("event type = %q, want %q", ev.Type, EventStatusChanged)
	}
	if len(ev.Channels) != 1 || ev.Channels[0] != RegulatorChannel(reg.ID) {
		t.Errorf("channels = %v, want only %q", ev.Channels, RegulatorChannel(reg.ID))
	}

	if err := svc.SetStatus(ctx, reg.ID, StatusCheckedOut); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("SetStatus(checked_out) error = %v, want ErrInvalidStatus", err)
	}
	if err := svc.SetStatus(ctx, reg.ID, RegulatorStatus("bogus")); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("SetStatus(bogus) error = %v, want ErrInvalidStatus", err)
	}
}

func TestRepository_GetRegulatorScope(t *testing.T) {
	db := testDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	fleetReg := seedRegulator(t, repo, "SN-010", "fleet-1", "")
	ownerReg := seedRegulator(t, repo, "SN-011", "", "usr-9")

	scope, err := repo.GetRegulatorScope(ctx, fleetReg.ID)
	if err != nil {
		t.Fatalf("GetRegulatorScope() error = %v", err)
	}
	if scope.FleetID != "fleet-1" || scope.OwnerUserID != "" {
		t.Errorf("fleet unit scope = %+v", scope)
	}

	scope, err = repo.GetRegulatorScope(ctx, ownerReg.ID)
	if err != nil {
		t.Fatalf("GetRegulatorScope() error = %v", err)
	}
	if scope.OwnerUserID != "usr-9" || scope.FleetID != "" {
		t.Errorf("owner unit scope = %+v", scope)
	}

	if _, err := repo.GetRegulatorScope(ctx, "reg-missing"); !errors.Is(err, ErrRegulatorNotFound) {
		t.Errorf("missing scope error = %v, want ErrRegulatorNotFound", err)
	}
}

func TestRepository_OwnedRegulatorIDs(t *testing.T) {
	db := testDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	a := seedRegulator(t, repo, "SN-020", "", "usr-own")
	b := seedRegulator(t, repo, "SN-021", "", "usr-own")
	seedRegulator(t, repo, "SN-022", "", "usr-other")
	seedRegulator(t, repo, "SN-023", "fleet-1", "")

	ids, err := repo.OwnedRegulatorIDs(ctx, "usr-own")
	if err != nil {
		t.Fatalf("OwnedRegulatorIDs() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
	want := map[string]bool{a.ID: true, b.ID: true}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected id %q", id)
		}
	}

	none, err := repo.OwnedRegulatorIDs(ctx, "usr-nobody")
	if err != nil {
		t.Fatalf("OwnedRegulatorIDs() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ids = %v, want none", none)
	}
}

func TestRepository_DuplicateSerial(t *testing.T) {
	db := testDB(t)
	repo := NewRepository(db)

	seedRegulator(t, repo, "SN-DUP", "fleet-1", "")

	err := repo.CreateRegulator(t.Context(), &Regulator{SerialNumber: "SN-DUP"})
	if !errors.Is(err, ErrRegulatorExists) {
		t.Errorf("CreateRegulator() error = %v, want ErrRegulatorExists", err)
	}
}

func TestRepository_RentalHistory(t *testing.T) {
	db := testDB(t)
	svc, repo, _ := testService(t, db)
	ctx := context.Background()

	reg := seedRegulator(t, repo, "SN-030", "fleet-1", "")

	for range 3 {
		if _, err := svc.Checkout(ctx, reg.ID, "usr-hist"); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		if _, err := svc.Checkin(ctx, reg.ID); err != nil {
			t.Fatalf("Checkin() error = %v", err)
		}
	}

	byUser, err := repo.ListRentalsByUser(ctx, "usr-hist")
	if err != nil {
		t.Fatalf("ListRentalsByUser() error = %v", err)
	}
	if len(byUser) != 3 {
		t.Errorf("rentals by user = %d, want 3", len(byUser))
	}

	byReg, err := repo.ListRentalsByRegulator(ctx, reg.ID)
	if err != nil {
		t.Fatalf("ListRentalsByRegulator() error = %v", err)
	}
	if len(byReg) != 3 {
		t.Errorf("rentals by regulator = %d, want 3", len(byReg))
	}
	for _, rental := range byReg {
		if rental.CheckedInAt == nil {
			t.Errorf("rental %s should be closed", rental.ID)
		}
	}
}
