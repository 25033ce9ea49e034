package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"002_availability.sql": {Data: []byte("CREATE TABLE availability_day (id INT);")},
		"001_appointments.sql": {Data: []byte("CREATE TABLE appointment (id INT);")},
		"010_history.sql":      {Data: []byte("CREATE TABLE appointment_transition (id INT);")},
		"README.md":            {Data: []byte("not a migration")},
		"notes.sql":            {Data: []byte("-- no numeric prefix")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 || migrations[2].Version != 10 {
		t.Errorf("unexpected order: %d, %d, %d", migrations[0].Version, migrations[1].Version, migrations[2].Version)
	}
	if migrations[0].SQL != "CREATE TABLE appointment (id INT);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestRunInTx_NoPool(t *testing.T) {
	called := false
	err := NewTxManager(nil).RunInTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Error("expected error without a pool")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := HealthHandler(fakePinger{})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := HealthHandler(fakePinger{err: errors.New("down")})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAfterCommit_NoTx(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Error("without a transaction the hook must run immediately")
	}
}

type fakeTx struct{ pgx.Tx }

func TestAfterCommit_Deferred(t *testing.T) {
	ctx, committed := WithTx(context.Background(), fakeTx{})
	if TxFromContext(ctx) == nil {
		t.Fatal("WithTx must bind the transaction")
	}
	var order []int
	AfterCommit(ctx, func() { order = append(order, 1) })
	AfterCommit(ctx, func() { order = append(order, 2) })
	if len(order) != 0 {
		t.Error("hooks must wait for commit")
	}
	committed()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("hooks must run in registration order, got %v", order)
	}
}
