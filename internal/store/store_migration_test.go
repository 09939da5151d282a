package store

import "testing"

func TestMigration(t *testing.T) {
	st, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if err := initDB(st.db); err != nil {
		t.Fatal("initializing after opening should be a no-op", err)
	}
	var count int
	if err := st.db.QueryRow("select count(*) from t_migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected one applied migration got %v", count)
	}
}

func TestVersionOrder(t *testing.T) {
	cases := []struct {
		a, b version
		less bool
	}{
		{version{0, 0, 0}, version{1, 0, 0}, true},
		{version{1, 2, 0}, version{1, 10, 0}, true},
		{version{1, 0, 1}, version{1, 0, 0}, false},
		{version{2, 0, 0}, version{1, 9, 9}, false},
		{version{1, 0, 0}, version{1, 0, 0}, false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.less {
			t.Fatalf("%v < %v should be %v", c.a, c.b, c.less)
		}
	}
}
