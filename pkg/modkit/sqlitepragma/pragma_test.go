package sqlitepragma

import "testing"

func TestValidate_WhitelistAndNormalization(t *testing.T) {
	r, err := Validate(map[string]string{
		"journal_mode": "wal",
		"synchronous":  "normal",
		"busy_timeout": "5000",
	}, false)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if r.JournalMode != "WAL" || r.Synchronous != "NORMAL" || r.BusyTimeout == nil || *r.BusyTimeout != 5000 {
		t.Fatalf("unexpected resolved pragmas: %+v", r)
	}
}

func TestValidate_UnknownKeyRejected(t *testing.T) {
	_, err := Validate(map[string]string{"cache_size": "2000"}, false)
	if err == nil {
		t.Fatal("expected an error for an unwhitelisted pragma")
	}
}

func TestValidate_WalLegacyAlias(t *testing.T) {
	r, err := Validate(map[string]string{"wal": "true"}, false)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if r.JournalMode != "WAL" {
		t.Fatalf("JournalMode = %s, want WAL", r.JournalMode)
	}

	r, err = Validate(map[string]string{"wal": "0"}, false)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if r.JournalMode != "DELETE" {
		t.Fatalf("JournalMode = %s, want DELETE", r.JournalMode)
	}
}

func TestValidate_InMemoryForcesDeleteAndDropsBusyTimeout(t *testing.T) {
	r, err := Validate(map[string]string{"journal_mode": "WAL", "busy_timeout": "1000"}, true)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if r.JournalMode != "WAL" {
		t.Fatalf("explicit journal_mode must not be overridden: got %s", r.JournalMode)
	}

	r, err = Validate(map[string]string{}, true)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if r.JournalMode != "DELETE" {
		t.Fatalf("in-memory default journal_mode = %s, want DELETE", r.JournalMode)
	}
	if r.BusyTimeout != nil {
		t.Fatalf("in-memory busy_timeout should stay unset, got %v", *r.BusyTimeout)
	}
}

func TestValidate_InvalidBusyTimeout(t *testing.T) {
	if _, err := Validate(map[string]string{"busy_timeout": "-1"}, false); err == nil {
		t.Fatal("expected error for negative busy_timeout")
	}
	if _, err := Validate(map[string]string{"busy_timeout": "abc"}, false); err == nil {
		t.Fatal("expected error for non-numeric busy_timeout")
	}
}
