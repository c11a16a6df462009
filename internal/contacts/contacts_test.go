package contacts

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNormalizeEmails(t *testing.T) {
	in := []string{
		" mom@example.com ",
		"",
		"not-an-email",
		"Mom@Example.com",
		"Dad <dad@example.com>",
		"friend@example.org",
		"friend@example.org",
	}
	got := NormalizeEmails(in)
	want := []string{"mom@example.com", "friend@example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeEmails()=%v want %v", got, want)
	}
}

func TestEmails_FlattensInOrder(t *testing.T) {
	cs := []Contact{
		{Name: "B", Email: "b@example.com"},
		{Name: "A", Email: "a@example.com"},
		{Name: "B again", Email: "B@example.com"},
	}
	got := Emails(cs)
	if !reflect.DeepEqual(got, []string{"b@example.com", "a@example.com"}) {
		t.Fatalf("Emails()=%v", got)
	}
	if out := Emails(nil); out == nil || len(out) != 0 {
		t.Fatalf("Emails(nil)=%v want empty", out)
	}
}

func TestStatic_ReturnsCopy(t *testing.T) {
	s := Static{{Name: "A", Email: "a@example.com"}}
	got, err := s.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}
	got[0].Email = "changed@example.com"
	if s[0].Email != "a@example.com" {
		t.Fatalf("static list mutated through returned slice")
	}
}

func TestRedis_Contacts(t *testing.T) {
	mr := miniredis.RunT(t)
	for _, c := range []Contact{{Name: "Mom", Email: "mom@example.com"}, {Name: "Dad", Email: "dad@example.com"}} {
		b, _ := json.Marshal(c)
		if _, err := mr.RPush(contactsKey("rider-1"), string(b)); err != nil {
			t.Fatalf("RPush: %v", err)
		}
	}

	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), UserID: "rider-1"})
	if err != nil {
		t.Fatalf("NewRedis() error: %v", err)
	}
	defer r.Close()

	got, err := r.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}
	want := []Contact{{Name: "Mom", Email: "mom@example.com"}, {Name: "Dad", Email: "dad@example.com"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Contacts()=%v want %v", got, want)
	}
}

func TestRedis_EmptyListAndBadEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), UserID: "nobody"})
	if err != nil {
		t.Fatalf("NewRedis() error: %v", err)
	}
	defer r.Close()

	got, err := r.Contacts(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("Contacts()=%v,%v want empty", got, err)
	}

	if _, err := mr.RPush(contactsKey("nobody"), "{broken"); err != nil {
		t.Fatalf("RPush: %v", err)
	}
	if _, err := r.Contacts(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewRedis_RequiresUserID(t *testing.T) {
	if _, err := NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error")
	}
}

// TestPostgres_Contacts runs against a real database when
// RIDERSAFE_TEST_PG holds a connection string.
func TestPostgres_Contacts(t *testing.T) {
	dsn := os.Getenv("RIDERSAFE_TEST_PG")
	if dsn == "" {
		t.Skip("RIDERSAFE_TEST_PG not set")
	}
	ctx := context.Background()
	p, err := NewPostgres(ctx, dsn, "rider-test")
	if err != nil {
		t.Fatalf("NewPostgres() error: %v", err)
	}
	t.Cleanup(p.Close)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS emergency_contacts (
			id serial PRIMARY KEY,
			user_id text NOT NULL,
			name text NOT NULL,
			email text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`DELETE FROM emergency_contacts WHERE user_id IN ('rider-test', 'someone-else')`,
		`INSERT INTO emergency_contacts (user_id, name, email) VALUES
			('rider-test', 'Mom', 'mom@example.com'),
			('someone-else', 'X', 'x@example.com'),
			('rider-test', 'Dad', 'dad@example.com')`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			t.Fatalf("Exec: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = p.pool.Exec(context.Background(), `DELETE FROM emergency_contacts WHERE user_id IN ('rider-test', 'someone-else')`)
	})

	got, err := p.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}
	want := []Contact{{Name: "Mom", Email: "mom@example.com"}, {Name: "Dad", Email: "dad@example.com"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("contacts=%v want %v", got, want)
	}
}
