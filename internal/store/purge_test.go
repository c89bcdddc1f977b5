package store

import "testing"

func TestNewPurger(t *testing.T) {
	s := newTestSQLiteStore(t)

	p, err := NewPurger(s, "*/10 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	p.Stop()

	if _, err := NewPurger(s, "not a cron spec"); err == nil {
		t.Fatal("invalid cron spec accepted")
	}
}
